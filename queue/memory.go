package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and embedded use. A single
// mutex stands in for the document store's per-document atomicity; every
// primitive runs inside one critical section.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]*Record
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Record)}
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := validateRecord(rec); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrStoreClosed
	}

	if rec.ID == "" {
		rec.ID = newItemID()
	} else if _, exists := s.items[rec.ID]; exists {
		return Record{}, ErrDuplicateItem
	}
	rec.VisibleAt = rec.VisibleAt.UTC()
	if rec.Payload == nil {
		rec.Payload = []byte{}
	}

	stored := rec
	stored.Payload = append([]byte(nil), rec.Payload...)
	s.items[stored.ID] = &stored
	return rec, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, queueType string, now, leaseUntil time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, false, ErrStoreClosed
	}

	var next *Record
	for _, rec := range s.items {
		if rec.QueueType != queueType || rec.VisibleAt.After(now) {
			continue
		}
		if next == nil ||
			rec.VisibleAt.Before(next.VisibleAt) ||
			(rec.VisibleAt.Equal(next.VisibleAt) && rec.ID < next.ID) {
			next = rec
		}
	}
	if next == nil {
		return Record{}, false, nil
	}

	next.Attempts--
	next.VisibleAt = leaseUntil.UTC()

	out := *next
	out.Payload = append([]byte(nil), next.Payload...)
	if next.Attempts <= 0 {
		delete(s.items, next.ID)
	}
	return out, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	if _, ok := s.items[id]; !ok {
		return 0, nil
	}
	delete(s.items, id)
	return 1, nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, queueType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int64
	for id, rec := range s.items {
		if rec.QueueType == queueType {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Count(ctx context.Context, queueType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int64
	for _, rec := range s.items {
		if rec.QueueType == queueType {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountReady(ctx context.Context, queueType string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int64
	for _, rec := range s.items {
		if rec.QueueType == queueType && !rec.VisibleAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
