package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nuetzliches/dokq/queue"
)

func TestPoolProcessesAndAcknowledges(t *testing.T) {
	q := queue.New(queue.NewMemoryStore(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const items = 20
	for i := 0; i < items; i++ {
		if _, err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var handled atomic.Int64
	pool := New(q, func(ctx context.Context, item *queue.Item) error {
		if handled.Add(1) == items {
			cancel()
		}
		return nil
	},
		WithWorkers(3),
		WithPollInterval(5*time.Millisecond),
	)

	if err := pool.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := handled.Load(); got != items {
		t.Fatalf("handled %d items, want %d", got, items)
	}

	n, err := q.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("count=%d, want 0 after acknowledgements", n)
	}
}

func TestPoolRedeliversUntilAttemptsExhausted(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	)
	q := queue.New(queue.NewMemoryStore(),
		testLogger(),
		queue.WithNowFunc(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
		queue.WithLease(time.Second),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := q.Enqueue(ctx, "stubborn", queue.WithAttempts(3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int64
	pool := New(q, func(ctx context.Context, item *queue.Item) error {
		calls.Add(1)
		// Lapse the lease so the next poll redelivers immediately.
		mu.Lock()
		now = now.Add(2 * time.Second)
		mu.Unlock()
		if item.Attempts == 0 {
			cancel()
		}
		return errors.New("still failing")
	},
		WithWorkers(1),
		WithPollInterval(time.Millisecond),
	)

	if err := pool.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("handler ran %d times, want 3", got)
	}

	n, err := q.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("count=%d, want 0 after attempts exhausted", n)
	}
}

func TestPoolStopsOnStoreFault(t *testing.T) {
	store := queue.NewMemoryStore()
	q := queue.New(store, testLogger())
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	pool := New(q, func(ctx context.Context, item *queue.Item) error { return nil },
		WithWorkers(2),
		WithPollInterval(time.Millisecond),
	)

	err := pool.Run(context.Background())
	if !errors.Is(err, queue.ErrStoreClosed) {
		t.Fatalf("run err=%v, want ErrStoreClosed", err)
	}
}

func TestPoolReturnsNilOnCancel(t *testing.T) {
	q := queue.New(queue.NewMemoryStore(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	pool := New(q, func(ctx context.Context, item *queue.Item) error { return nil },
		WithPollInterval(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

// testLogger silences queue logging in tests.
func testLogger() queue.Option {
	return queue.WithLogger(slog.New(slog.DiscardHandler))
}
