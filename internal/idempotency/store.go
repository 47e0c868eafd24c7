package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a captured HTTP response replayed for repeated keys.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and must Complete or Abort it.
	StateNew State = iota
	// StateInFlight means another request with the same key has not finished yet.
	StateInFlight
	// StateDone means a response is cached and must be replayed.
	StateDone
)

// Store reserves idempotency keys and caches the responses they produced.
type Store interface {
	// Reserve claims key for the caller, or reports that it is taken.
	// The returned Response is set only for StateDone.
	Reserve(ctx context.Context, key string, ttl time.Duration) (State, *Response)

	// Complete caches the response for a reserved key.
	Complete(ctx context.Context, key string, response *Response, ttl time.Duration)

	// Abort releases a reservation without caching, so the key can be retried.
	Abort(ctx context.Context, key string)
}

// MemoryStore is an in-memory Store with LRU eviction.
// In-flight reservations count toward the size limit and are evicted like any other entry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type entry struct {
	key      string
	response *Response // nil while in flight
	expires  time.Time
}

// DefaultMaxEntries bounds the memory store.
const DefaultMaxEntries = 10000

// NewMemoryStore creates a store holding at most DefaultMaxEntries keys.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(DefaultMaxEntries)
}

// NewMemoryStoreWithSize creates a store holding at most maxSize keys and starts its sweeper.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweepLoop(5 * time.Minute)
	return s
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (State, *Response) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		if now.Before(e.expires) {
			s.lru.MoveToFront(el)
			if e.response == nil {
				return StateInFlight, nil
			}
			return StateDone, e.response
		}
		s.remove(el)
	}

	if len(s.entries) >= s.maxSize {
		if back := s.lru.Back(); back != nil {
			s.remove(back)
		}
	}
	s.entries[key] = s.lru.PushFront(&entry{key: key, expires: now.Add(ttl)})
	return StateNew, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, response *Response, ttl time.Duration) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		e.response = response
		e.expires = now.Add(ttl)
		s.lru.MoveToFront(el)
		return
	}
	// Evicted while in flight; cache anyway.
	if len(s.entries) >= s.maxSize {
		if back := s.lru.Back(); back != nil {
			s.remove(back)
		}
	}
	s.entries[key] = s.lru.PushFront(&entry{key: key, response: response, expires: now.Add(ttl)})
}

// Abort implements Store. A completed key is left alone.
func (s *MemoryStore) Abort(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok && el.Value.(*entry).response == nil {
		s.remove(el)
	}
}

// Len returns the number of keys held, in flight or done.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// remove drops el; the caller holds s.mu.
func (s *MemoryStore) remove(el *list.Element) {
	s.lru.Remove(el)
	delete(s.entries, el.Value.(*entry).key)
}

func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry).expires) {
			s.remove(el)
		}
		el = prev
	}
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
