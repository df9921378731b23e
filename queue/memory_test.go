package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreAssignsIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		rec, err := s.Insert(ctx, Record{QueueType: "t", VisibleAt: now, Attempts: 1})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("insert left ID empty")
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate id %q", rec.ID)
		}
		seen[rec.ID] = true
	}
}

func TestMemoryStoreRejectsDuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	rec, err := s.Insert(ctx, Record{QueueType: "t", VisibleAt: now, Attempts: 1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = s.Insert(ctx, Record{ID: rec.ID, QueueType: "t", VisibleAt: now, Attempts: 1})
	if !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("err=%v, want ErrDuplicateItem", err)
	}
}

func TestMemoryStoreValidatesRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.Insert(ctx, Record{QueueType: "", VisibleAt: now, Attempts: 1}); err == nil {
		t.Fatal("insert with empty queue type succeeded")
	}
	if _, err := s.Insert(ctx, Record{QueueType: "t", VisibleAt: now, Attempts: 0}); !errors.Is(err, ErrBadAttempts) {
		t.Fatalf("err=%v, want ErrBadAttempts", err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := s.Insert(ctx, Record{QueueType: "t", VisibleAt: now, Attempts: 1}); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("insert err=%v, want ErrStoreClosed", err)
	}
	if _, _, err := s.ClaimNext(ctx, "t", now, now.Add(time.Minute)); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("claim err=%v, want ErrStoreClosed", err)
	}
	if _, err := s.Delete(ctx, "id"); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("delete err=%v, want ErrStoreClosed", err)
	}
	if _, err := s.DeleteAll(ctx, "t"); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("delete all err=%v, want ErrStoreClosed", err)
	}
	if _, err := s.Count(ctx, "t"); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("count err=%v, want ErrStoreClosed", err)
	}
	if _, err := s.CountReady(ctx, "t", now); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("count ready err=%v, want ErrStoreClosed", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryStoreCopiesPayload(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	payload := []byte(`{"n":1}`)
	rec, err := s.Insert(ctx, Record{QueueType: "t", VisibleAt: now, Attempts: 2, Payload: payload})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	payload[0] = 'X'

	got, ok, err := s.ClaimNext(ctx, "t", now, now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if got.ID != rec.ID {
		t.Fatalf("claimed %q, want %q", got.ID, rec.ID)
	}
	if string(got.Payload) != `{"n":1}` {
		t.Fatalf("payload=%s, caller mutation leaked into store", got.Payload)
	}
}
