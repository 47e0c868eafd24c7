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

// mongoQueueEntry is the stored form of QueueEntry. The payload is a string so the
// signed bytes come back exactly as enqueued.
type mongoQueueEntry struct {
	ID             string     `bson:"_id"`
	OrderID        string     `bson:"order_id"`
	DestinationURL string     `bson:"destination_url"`
	Payload        string     `bson:"payload"`
	EventType      string     `bson:"event_type"`
	Status         string     `bson:"status"`
	Attempts       int        `bson:"attempts"`
	MaxAttempts    int        `bson:"max_attempts"`
	NextRetryAt    *time.Time `bson:"next_retry_at"`
	ErrorMessage   string     `bson:"error_message"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toMongoQueueEntry(e QueueEntry) mongoQueueEntry {
	return mongoQueueEntry{
		ID:             e.ID,
		OrderID:        e.OrderID,
		DestinationURL: e.DestinationURL,
		Payload:        string(e.Payload),
		EventType:      string(e.EventType),
		Status:         string(e.Status),
		Attempts:       e.Attempts,
		MaxAttempts:    e.MaxAttempts,
		NextRetryAt:    e.NextRetryAt,
		ErrorMessage:   e.ErrorMessage,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func (d mongoQueueEntry) toEntry() QueueEntry {
	return QueueEntry{
		ID:             d.ID,
		OrderID:        d.OrderID,
		DestinationURL: d.DestinationURL,
		Payload:        []byte(d.Payload),
		EventType:      EventType(d.EventType),
		Status:         WebhookStatus(d.Status),
		Attempts:       d.Attempts,
		MaxAttempts:    d.MaxAttempts,
		NextRetryAt:    d.NextRetryAt,
		ErrorMessage:   d.ErrorMessage,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// EnqueueWebhook inserts a pending entry.
func (s *MongoDBStore) EnqueueWebhook(ctx context.Context, req EnqueueRequest) (QueueEntry, error) {
	if err := validateEnqueueRequest(&req); err != nil {
		return QueueEntry{}, err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	entry := newQueueEntry(uuid.NewString(), req, time.Now().UTC())
	if _, err := s.queue.InsertOne(ctx, toMongoQueueEntry(entry)); err != nil {
		return QueueEntry{}, fmt.Errorf("insert webhook: %w", err)
	}
	return entry, nil
}

// FetchDueWebhooks returns pending entries ready for delivery, oldest first.
func (s *MongoDBStore) FetchDueWebhooks(ctx context.Context, limit int) ([]QueueEntry, error) {
	filter := bson.M{
		"status": string(WebhookStatusPending),
		"$or": bson.A{
			bson.M{"next_retry_at": nil},
			bson.M{"next_retry_at": bson.M{"$lte": time.Now().UTC()}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(fetchLimit(limit)))
	return s.findEntries(ctx, filter, opts)
}

// ClaimWebhook moves a pending entry to processing with FindOneAndUpdate on status.
func (s *MongoDBStore) ClaimWebhook(ctx context.Context, id string) (QueueEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": id, "status": string(WebhookStatusPending)}
	update := bson.M{"$set": bson.M{
		"status":     string(WebhookStatusProcessing),
		"updated_at": time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoQueueEntry
	err := s.queue.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return QueueEntry{}, s.classifyMiss(ctx, id, WebhookStatusProcessing)
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("claim webhook: %w", err)
	}
	return doc.toEntry(), nil
}

// CompleteWebhook marks a claimed entry delivered.
func (s *MongoDBStore) CompleteWebhook(ctx context.Context, id string, at time.Time) error {
	filter := bson.M{"_id": id, "status": string(WebhookStatusProcessing)}
	update := bson.M{"$set": bson.M{
		"status":        string(WebhookStatusCompleted),
		"next_retry_at": nil,
		"updated_at":    at,
	}}
	return s.transition(ctx, id, WebhookStatusCompleted, filter, update)
}

// RescheduleWebhook records a failed attempt and returns the entry to pending.
func (s *MongoDBStore) RescheduleWebhook(ctx context.Context, id string, attempts int, errMsg string, nextRetryAt, at time.Time) error {
	filter := bson.M{
		"_id":          id,
		"status":       string(WebhookStatusProcessing),
		"max_attempts": bson.M{"$gt": attempts},
	}
	update := bson.M{"$set": bson.M{
		"status":        string(WebhookStatusPending),
		"attempts":      attempts,
		"error_message": errMsg,
		"next_retry_at": nextRetryAt,
		"updated_at":    at,
	}}
	return s.transition(ctx, id, WebhookStatusPending, filter, update)
}

// FailWebhook records the final failed attempt.
func (s *MongoDBStore) FailWebhook(ctx context.Context, id string, attempts int, errMsg string, at time.Time) error {
	filter := bson.M{
		"_id":          id,
		"status":       string(WebhookStatusProcessing),
		"max_attempts": bson.M{"$gte": attempts},
	}
	update := bson.M{"$set": bson.M{
		"status":        string(WebhookStatusFailed),
		"attempts":      attempts,
		"error_message": errMsg,
		"next_retry_at": nil,
		"updated_at":    at,
	}}
	return s.transition(ctx, id, WebhookStatusFailed, filter, update)
}

// ReleaseWebhook returns a claimed entry to pending without consuming an attempt.
func (s *MongoDBStore) ReleaseWebhook(ctx context.Context, id string, at time.Time) error {
	filter := bson.M{"_id": id, "status": string(WebhookStatusProcessing)}
	update := bson.M{"$set": bson.M{
		"status":     string(WebhookStatusPending),
		"updated_at": at,
	}}
	return s.transition(ctx, id, WebhookStatusPending, filter, update)
}

// CancelWebhook marks a pending entry failed.
func (s *MongoDBStore) CancelWebhook(ctx context.Context, id, reason string, at time.Time) error {
	filter := bson.M{"_id": id, "status": string(WebhookStatusPending)}
	update := bson.M{"$set": bson.M{
		"status":        string(WebhookStatusFailed),
		"error_message": cancelMessage(reason),
		"next_retry_at": nil,
		"updated_at":    at,
	}}
	return s.transition(ctx, id, WebhookStatusFailed, filter, update)
}

// RequeueStaleWebhooks releases processing entries last touched before olderThan.
func (s *MongoDBStore) RequeueStaleWebhooks(ctx context.Context, olderThan, at time.Time) (int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"status":     string(WebhookStatusProcessing),
		"updated_at": bson.M{"$lt": olderThan},
	}
	update := bson.M{"$set": bson.M{
		"status":     string(WebhookStatusPending),
		"updated_at": at,
	}}
	result, err := s.queue.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("requeue stale webhooks: %w", err)
	}
	return int(result.ModifiedCount), nil
}

// GetWebhook retrieves a queue entry by ID.
func (s *MongoDBStore) GetWebhook(ctx context.Context, id string) (QueueEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoQueueEntry
	err := s.queue.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return QueueEntry{}, ErrNotFound
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("find webhook: %w", err)
	}
	return doc.toEntry(), nil
}

// ListWebhooks lists entries newest first with an optional status filter.
func (s *MongoDBStore) ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]QueueEntry, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(listLimit(limit)))
	return s.findEntries(ctx, filter, opts)
}

// ListWebhooksByOrder lists all entries of an order, oldest first.
func (s *MongoDBStore) ListWebhooksByOrder(ctx context.Context, orderID string) ([]QueueEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findEntries(ctx, bson.M{"order_id": orderID}, opts)
}

func (s *MongoDBStore) transition(ctx context.Context, id string, to WebhookStatus, filter, update bson.M) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.queue.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.classifyMiss(ctx, id, to)
	}
	return nil
}

// classifyMiss reports why a conditional update matched no document.
func (s *MongoDBStore) classifyMiss(ctx context.Context, id string, to WebhookStatus) error {
	var doc struct {
		Status string `bson:"status"`
	}
	opts := options.FindOne().SetProjection(bson.M{"status": 1})
	err := s.queue.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find webhook status: %w", err)
	}
	current := WebhookStatus(doc.Status)
	if to == WebhookStatusProcessing && current == WebhookStatusProcessing {
		return ErrAlreadyClaimed
	}
	return transitionError(id, current, to)
}

func (s *MongoDBStore) findEntries(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]QueueEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	cursor, err := s.queue.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoQueueEntry
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode webhooks: %w", err)
	}

	entries := make([]QueueEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, d.toEntry())
	}
	return entries, nil
}
