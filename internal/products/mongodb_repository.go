package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/platehaus/storefront/internal/dbpool"
	"github.com/platehaus/storefront/internal/metrics"
)

const mongoConnectTimeout = 10 * time.Second

// MongoDBRepository reads the plate catalog from a MongoDB collection.
type MongoDBRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	metrics    *metrics.Metrics
}

// mongoProduct is the stored document. Field names follow the storefront's JSON.
type mongoProduct struct {
	Weight       float64 `bson:"weight"`
	Title        string  `bson:"title"`
	SellingPrice float64 `bson:"sellingPrice"`
}

// NewMongoDBRepository connects and ensures the weight index exists.
func NewMongoDBRepository(connectionString, database, collection string) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	fail := func(err error) (*MongoDBRepository, error) {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fail(fmt.Errorf("ping mongodb: %w", err))
	}

	coll := client.Database(database).Collection(collection)
	weightIndex := mongo.IndexModel{Keys: bson.D{{Key: "weight", Value: 1}}}
	if _, err := coll.Indexes().CreateOne(ctx, weightIndex); err != nil {
		return fail(fmt.Errorf("create catalog index: %w", err))
	}

	return &MongoDBRepository{client: client, collection: coll}, nil
}

// WithMetrics times every query into storefront_db_query_duration_seconds.
func (r *MongoDBRepository) WithMetrics(m *metrics.Metrics) *MongoDBRepository {
	r.metrics = m
	return r
}

// ListProducts returns every plate, lightest first.
func (r *MongoDBRepository) ListProducts(ctx context.Context) ([]Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_products", metrics.BackendMongoDB)()
	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutList)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "weight", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}

	var docs []mongoProduct
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	list := make([]Product, 0, len(docs))
	for _, d := range docs {
		list = append(list, Product(d))
	}
	return list, nil
}

// GetProductByWeight matches within weightTolerance.
func (r *MongoDBRepository) GetProductByWeight(ctx context.Context, weight float64) (Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_product_by_weight", metrics.BackendMongoDB)()
	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutGet)
	defer cancel()

	filter := bson.M{"weight": bson.M{"$gt": weight - weightTolerance, "$lt": weight + weightTolerance}}
	var doc mongoProduct
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("find product: %w", err)
	}
	return Product(doc), nil
}

// Close disconnects the client.
func (r *MongoDBRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
