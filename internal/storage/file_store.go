package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore implements Store using a single JSON file.
//
// Every mutation rewrites the file through a temp file and an atomic rename, so a crash
// leaves either the previous or the new state on disk. It is meant for local development
// and single-instance demos; use PostgreSQL or MongoDB when more than one process shares the queue.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	state    *queueState
	now      func() time.Time
}

// fileData represents the JSON structure stored in the file.
type fileData struct {
	Settings *WebhookSettings `json:"webhook_settings,omitempty"`
	Queue    []fileQueueEntry `json:"webhook_queue"`
	Logs     []fileLogEntry   `json:"webhook_logs"`
}

// Payloads are stored as JSON strings so the signed bytes survive re-encoding.
type fileQueueEntry struct {
	QueueEntry
	Payload string `json:"payload"`
}

type fileLogEntry struct {
	DeliveryLogEntry
	Payload string `json:"payload,omitempty"`
}

// NewFileStore opens (or creates) a file-backed store.
func NewFileStore(filePath string) (*FileStore, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	store := &FileStore{
		filePath: filePath,
		state:    newQueueState(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// WithClock overrides the store clock used for createdAt, claims and due checks.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// load reads data from the file.
func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}

	s.state.settings = fd.Settings
	for _, fe := range fd.Queue {
		entry := fe.QueueEntry
		entry.Payload = json.RawMessage(fe.Payload)
		s.state.insert(entry)
	}
	for _, fl := range fd.Logs {
		entry := fl.DeliveryLogEntry
		if fl.Payload != "" {
			entry.Payload = json.RawMessage(fl.Payload)
		}
		s.state.appendLog(entry)
	}
	return nil
}

// persist writes the current state to disk. Caller must hold the write lock.
func (s *FileStore) persist() error {
	fd := fileData{
		Settings: s.state.settings,
		Queue:    make([]fileQueueEntry, 0, len(s.state.order)),
		Logs:     make([]fileLogEntry, 0, len(s.state.logs)),
	}
	for _, id := range s.state.order {
		e := s.state.entries[id]
		fd.Queue = append(fd.Queue, fileQueueEntry{QueueEntry: *e, Payload: string(e.Payload)})
	}
	for _, l := range s.state.logs {
		fd.Logs = append(fd.Logs, fileLogEntry{DeliveryLogEntry: l, Payload: string(l.Payload)})
	}
	return s.saveData(fd)
}

// saveData writes the given data to disk.
func (s *FileStore) saveData(data fileData) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	_ = os.Chmod(s.filePath, 0600)

	return nil
}

// Close implements Store. State is already on disk after every mutation.
func (s *FileStore) Close() error {
	return nil
}

// GetWebhookSettings returns the settings row or ErrNotFound.
func (s *FileStore) GetWebhookSettings(_ context.Context) (WebhookSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.settings == nil {
		return WebhookSettings{}, ErrNotFound
	}
	return *s.state.settings, nil
}

// SaveWebhookSettings creates or replaces the settings row.
func (s *FileStore) SaveWebhookSettings(_ context.Context, settings WebhookSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = s.now()
	}
	s.state.settings = &settings
	return s.persist()
}

// AppendDeliveryLog appends one attempt record.
func (s *FileStore) AppendDeliveryLog(_ context.Context, entry DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareDeliveryLog(&entry, uuid.NewString(), s.now())
	s.state.appendLog(entry)
	return s.persist()
}

// ListDeliveryLogs returns the most recent attempts, newest first.
func (s *FileStore) ListDeliveryLogs(_ context.Context, limit int) ([]DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.recentLogs(listLimit(limit)), nil
}

// ListDeliveryLogsByOrder returns every attempt for an order, oldest first.
func (s *FileStore) ListDeliveryLogsByOrder(_ context.Context, orderID string) ([]DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.logsWhere(func(l DeliveryLogEntry) bool { return l.OrderID == orderID }), nil
}

// ListDeliveryLogsByEntry returns every attempt for a queue entry, oldest first.
func (s *FileStore) ListDeliveryLogsByEntry(_ context.Context, queueEntryID string) ([]DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.logsWhere(func(l DeliveryLogEntry) bool { return l.QueueEntryID == queueEntryID }), nil
}
