package storage

import (
	"sort"
	"time"
)

// queueState holds settings, queue and log in memory. It is not safe for concurrent
// use; MemoryStore and FileStore guard it with their own mutex.
type queueState struct {
	settings *WebhookSettings
	entries  map[string]*QueueEntry
	order    []string // Entry IDs in insertion order, used to break createdAt ties
	logs     []DeliveryLogEntry
}

func newQueueState() *queueState {
	return &queueState{entries: make(map[string]*QueueEntry)}
}

func (q *queueState) insert(entry QueueEntry) {
	e := entry.clone()
	q.entries[e.ID] = &e
	q.order = append(q.order, e.ID)
}

// inOrder returns copies of the entries accepted by keep, oldest first.
func (q *queueState) inOrder(keep func(*QueueEntry) bool) []QueueEntry {
	var out []QueueEntry
	for _, id := range q.order {
		e := q.entries[id]
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (q *queueState) due(now time.Time, limit int) []QueueEntry {
	ready := q.inOrder(func(e *QueueEntry) bool { return e.IsDue(now) })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready
}

// mutate applies fn to a copy of the entry and stores the result only when fn succeeds.
func (q *queueState) mutate(id string, fn func(*QueueEntry) error) (QueueEntry, error) {
	current, ok := q.entries[id]
	if !ok {
		return QueueEntry{}, ErrNotFound
	}
	next := current.clone()
	if err := fn(&next); err != nil {
		return QueueEntry{}, err
	}
	*current = next
	return next.clone(), nil
}

func (q *queueState) requeueStale(olderThan, at time.Time) int {
	count := 0
	for _, id := range q.order {
		e := q.entries[id]
		if e.Status == WebhookStatusProcessing && e.UpdatedAt.Before(olderThan) {
			_ = e.release(at)
			count++
		}
	}
	return count
}

func (q *queueState) get(id string) (QueueEntry, error) {
	e, ok := q.entries[id]
	if !ok {
		return QueueEntry{}, ErrNotFound
	}
	return e.clone(), nil
}

// list returns entries newest first, optionally filtered by status.
func (q *queueState) list(status WebhookStatus, limit int) []QueueEntry {
	all := q.inOrder(func(e *QueueEntry) bool { return status == "" || e.Status == status })
	reverse(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (q *queueState) byOrder(orderID string) []QueueEntry {
	return q.inOrder(func(e *QueueEntry) bool { return e.OrderID == orderID })
}

func (q *queueState) appendLog(entry DeliveryLogEntry) {
	q.logs = append(q.logs, entry.clone())
}

func (q *queueState) logsWhere(keep func(DeliveryLogEntry) bool) []DeliveryLogEntry {
	var out []DeliveryLogEntry
	for _, l := range q.logs {
		if keep(l) {
			out = append(out, l.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (q *queueState) recentLogs(limit int) []DeliveryLogEntry {
	all := q.logsWhere(func(DeliveryLogEntry) bool { return true })
	reverse(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
