package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const settingsDocumentID = "default"

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client   *mongo.Client
	settings *mongo.Collection
	queue    *mongo.Collection
	logs     *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(connectionString, database string, collections TableNames) (*MongoDBStore, error) {
	collections = collections.withDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &MongoDBStore{
		client:   client,
		settings: db.Collection(collections.Settings),
		queue:    db.Collection(collections.Queue),
		logs:     db.Collection(collections.Logs),
	}

	if err := store.createIndexes(context.Background()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// createIndexes creates necessary indexes for collections.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	ctx, cancel := withSchemaTimeout(ctx)
	defer cancel()

	_, err := s.queue.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create webhook queue indexes: %w", err)
	}

	_, err = s.logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "queue_entry_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create webhook log indexes: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.client.Disconnect(ctx)
}

// mongoSettings mirrors WebhookSettings with explicit field names.
type mongoSettings struct {
	ID                  string    `bson:"_id"`
	Enabled             bool      `bson:"enabled"`
	DestinationURL      string    `bson:"destination_url"`
	SigningSecret       string    `bson:"signing_secret"`
	TimeoutSeconds      int       `bson:"timeout_seconds"`
	RetryAttempts       int       `bson:"retry_attempts"`
	RetryDelaySeconds   int       `bson:"retry_delay_seconds"`
	IncludeCustomerData bool      `bson:"include_customer_data"`
	IncludeOrderItems   bool      `bson:"include_order_items"`
	IncludePricingData  bool      `bson:"include_pricing_data"`
	IncludeShippingData bool      `bson:"include_shipping_data"`
	UpdatedAt           time.Time `bson:"updated_at"`
}

// GetWebhookSettings returns the settings document or ErrNotFound.
func (s *MongoDBStore) GetWebhookSettings(ctx context.Context) (WebhookSettings, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoSettings
	err := s.settings.FindOne(ctx, bson.M{"_id": settingsDocumentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return WebhookSettings{}, ErrNotFound
	}
	if err != nil {
		return WebhookSettings{}, fmt.Errorf("find webhook settings: %w", err)
	}

	return WebhookSettings{
		Enabled:             doc.Enabled,
		DestinationURL:      doc.DestinationURL,
		SigningSecret:       doc.SigningSecret,
		TimeoutSeconds:      doc.TimeoutSeconds,
		RetryAttempts:       doc.RetryAttempts,
		RetryDelaySeconds:   doc.RetryDelaySeconds,
		IncludeCustomerData: doc.IncludeCustomerData,
		IncludeOrderItems:   doc.IncludeOrderItems,
		IncludePricingData:  doc.IncludePricingData,
		IncludeShippingData: doc.IncludeShippingData,
		UpdatedAt:           doc.UpdatedAt,
	}, nil
}

// SaveWebhookSettings upserts the settings document.
func (s *MongoDBStore) SaveWebhookSettings(ctx context.Context, ws WebhookSettings) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if ws.UpdatedAt.IsZero() {
		ws.UpdatedAt = time.Now().UTC()
	}
	doc := mongoSettings{
		ID:                  settingsDocumentID,
		Enabled:             ws.Enabled,
		DestinationURL:      ws.DestinationURL,
		SigningSecret:       ws.SigningSecret,
		TimeoutSeconds:      ws.TimeoutSeconds,
		RetryAttempts:       ws.RetryAttempts,
		RetryDelaySeconds:   ws.RetryDelaySeconds,
		IncludeCustomerData: ws.IncludeCustomerData,
		IncludeOrderItems:   ws.IncludeOrderItems,
		IncludePricingData:  ws.IncludePricingData,
		IncludeShippingData: ws.IncludeShippingData,
		UpdatedAt:           ws.UpdatedAt,
	}

	_, err := s.settings.ReplaceOne(ctx, bson.M{"_id": settingsDocumentID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert webhook settings: %w", err)
	}
	return nil
}

// mongoLogEntry stores the payload as a string, like mongoQueueEntry.
type mongoLogEntry struct {
	ID                  string    `bson:"_id"`
	QueueEntryID        string    `bson:"queue_entry_id"`
	OrderID             string    `bson:"order_id"`
	DestinationURL      string    `bson:"destination_url"`
	EventType           string    `bson:"event_type"`
	Payload             string    `bson:"payload"`
	ResponseStatus      int       `bson:"response_status"`
	ResponseBody        string    `bson:"response_body"`
	ResponseTimeMs      int64     `bson:"response_time_ms"`
	Success             bool      `bson:"success"`
	ErrorMessage        string    `bson:"error_message"`
	RetryCountAtAttempt int       `bson:"retry_count"`
	CreatedAt           time.Time `bson:"created_at"`
}

func (d mongoLogEntry) toEntry() DeliveryLogEntry {
	entry := DeliveryLogEntry{
		ID:                  d.ID,
		QueueEntryID:        d.QueueEntryID,
		OrderID:             d.OrderID,
		DestinationURL:      d.DestinationURL,
		EventType:           EventType(d.EventType),
		ResponseStatus:      d.ResponseStatus,
		ResponseBodyExcerpt: d.ResponseBody,
		ResponseTimeMs:      d.ResponseTimeMs,
		Success:             d.Success,
		ErrorMessage:        d.ErrorMessage,
		RetryCountAtAttempt: d.RetryCountAtAttempt,
		CreatedAt:           d.CreatedAt,
	}
	if d.Payload != "" {
		entry.Payload = []byte(d.Payload)
	}
	return entry
}

// AppendDeliveryLog inserts one attempt record.
func (s *MongoDBStore) AppendDeliveryLog(ctx context.Context, entry DeliveryLogEntry) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	prepareDeliveryLog(&entry, uuid.NewString(), time.Now().UTC())
	_, err := s.logs.InsertOne(ctx, mongoLogEntry{
		ID:                  entry.ID,
		QueueEntryID:        entry.QueueEntryID,
		OrderID:             entry.OrderID,
		DestinationURL:      entry.DestinationURL,
		EventType:           string(entry.EventType),
		Payload:             string(entry.Payload),
		ResponseStatus:      entry.ResponseStatus,
		ResponseBody:        entry.ResponseBodyExcerpt,
		ResponseTimeMs:      entry.ResponseTimeMs,
		Success:             entry.Success,
		ErrorMessage:        entry.ErrorMessage,
		RetryCountAtAttempt: entry.RetryCountAtAttempt,
		CreatedAt:           entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// ListDeliveryLogs returns the most recent attempts, newest first.
func (s *MongoDBStore) ListDeliveryLogs(ctx context.Context, limit int) ([]DeliveryLogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(listLimit(limit)))
	return s.findLogs(ctx, bson.M{}, opts)
}

// ListDeliveryLogsByOrder returns every attempt for an order, oldest first.
func (s *MongoDBStore) ListDeliveryLogsByOrder(ctx context.Context, orderID string) ([]DeliveryLogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findLogs(ctx, bson.M{"order_id": orderID}, opts)
}

// ListDeliveryLogsByEntry returns every attempt for a queue entry, oldest first.
func (s *MongoDBStore) ListDeliveryLogsByEntry(ctx context.Context, queueEntryID string) ([]DeliveryLogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findLogs(ctx, bson.M{"queue_entry_id": queueEntryID}, opts)
}

func (s *MongoDBStore) findLogs(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]DeliveryLogEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	cursor, err := s.logs.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query delivery logs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoLogEntry
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode delivery logs: %w", err)
	}

	logs := make([]DeliveryLogEntry, 0, len(docs))
	for _, d := range docs {
		logs = append(logs, d.toEntry())
	}
	return logs, nil
}
