package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultQueueType   = "default"
	DefaultMaxAttempts = 5
	DefaultLease       = 300 * time.Second

	minLease = time.Second
)

// Queue is a named logical queue over a shared Store. Many Queue instances,
// in one process or many, may point at the same store and queue type; all
// coordination happens through the store's atomic claim primitive, so Queue
// itself holds no queue state and needs no locks.
type Queue struct {
	store       Store
	queueType   string
	maxAttempts int
	lease       time.Duration
	logger      *slog.Logger
	nowFn       func() time.Time
	tracer      trace.Tracer
}

type Option func(*Queue)

// WithQueueType names the logical queue. Defaults to DefaultQueueType.
func WithQueueType(name string) Option {
	return func(q *Queue) {
		if name != "" {
			q.queueType = name
		}
	}
}

// WithMaxAttempts sets the default attempt budget for enqueued items.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n >= 1 {
			q.maxAttempts = n
		}
	}
}

// WithLease sets the default lease applied by Claim.
func WithLease(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.nowFn = now
		}
	}
}

// New builds a Queue over the given store. The store is injected and may be
// shared; closing the queue closes the store for every sharer.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		queueType:   DefaultQueueType,
		maxAttempts: DefaultMaxAttempts,
		lease:       DefaultLease,
		logger:      slog.Default(),
		nowFn:       time.Now,
		tracer:      otel.Tracer("github.com/nuetzliches/dokq/queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type sendOptions struct {
	delay    time.Duration
	at       time.Time
	attempts int
}

type SendOption func(*sendOptions)

// WithDelay hides the item for d after enqueue.
func WithDelay(d time.Duration) SendOption {
	return func(o *sendOptions) { o.delay = d }
}

// WithVisibleAt hides the item until the absolute time t. Takes precedence
// over WithDelay when both are set.
func WithVisibleAt(t time.Time) SendOption {
	return func(o *sendOptions) { o.at = t }
}

// WithAttempts overrides the queue's attempt budget for one item. Values
// below 1 are clamped to 1.
func WithAttempts(n int) SendOption {
	return func(o *sendOptions) { o.attempts = n }
}

type claimOptions struct {
	lease time.Duration
}

type ClaimOption func(*claimOptions)

// WithLeaseFor overrides the queue's lease for one claim. The effective lease
// is never shorter than one second.
func WithLeaseFor(d time.Duration) ClaimOption {
	return func(o *claimOptions) { o.lease = d }
}

// Enqueue inserts a new item. Inserts are independent; no coordination with
// other items happens here.
func (q *Queue) Enqueue(ctx context.Context, payload any, opts ...SendOption) (*Item, error) {
	ctx, span := q.startSpan(ctx, "queue.enqueue")
	defer span.End()

	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, q.fault(span, "enqueue", fmt.Errorf("enqueue: encode payload: %w", err))
	}

	now := q.nowFn().UTC()
	visibleAt := now
	switch {
	case !o.at.IsZero():
		visibleAt = o.at.UTC()
	case o.delay > 0:
		visibleAt = now.Add(o.delay)
	}

	attempts := q.maxAttempts
	if o.attempts != 0 {
		attempts = o.attempts
	}
	if attempts < 1 {
		attempts = 1
	}

	rec, err := q.store.Insert(ctx, Record{
		QueueType: q.queueType,
		VisibleAt: visibleAt,
		Attempts:  attempts,
		Payload:   body,
	})
	if err != nil {
		return nil, q.fault(span, "enqueue", fmt.Errorf("enqueue: %w", err))
	}

	item := itemFromRecord(rec)
	span.SetAttributes(attribute.String("dokq.item_id", item.ID))
	return item, nil
}

// Claim leases the earliest eligible item, hiding it until the lease lapses
// and consuming one attempt. It returns (nil, nil) when no item is eligible;
// a non-nil error always means a store fault, never absence. Exclusivity
// against concurrent claimants is delegated entirely to the store.
func (q *Queue) Claim(ctx context.Context, opts ...ClaimOption) (*Item, error) {
	ctx, span := q.startSpan(ctx, "queue.claim")
	defer span.End()

	var o claimOptions
	for _, opt := range opts {
		opt(&o)
	}
	lease := q.lease
	if o.lease > 0 {
		lease = o.lease
	}
	if lease < minLease {
		lease = minLease
	}

	now := q.nowFn().UTC()
	rec, ok, err := q.store.ClaimNext(ctx, q.queueType, now, now.Add(lease))
	if err != nil {
		return nil, q.fault(span, "claim", fmt.Errorf("claim: %w", err))
	}
	if !ok {
		return nil, nil
	}

	item := itemFromRecord(rec)
	span.SetAttributes(
		attribute.String("dokq.item_id", item.ID),
		attribute.Int("dokq.attempts_left", item.Attempts),
	)
	return item, nil
}

// Acknowledge removes an item by id, ending its lifecycle. It reports how
// many items were removed and is idempotent: acknowledging an id that is
// already gone returns 0.
func (q *Queue) Acknowledge(ctx context.Context, id string) (int64, error) {
	ctx, span := q.startSpan(ctx, "queue.acknowledge")
	defer span.End()

	if id == "" {
		return 0, nil
	}
	n, err := q.store.Delete(ctx, id)
	if err != nil {
		return 0, q.fault(span, "acknowledge", fmt.Errorf("acknowledge: %w", err))
	}
	return n, nil
}

// Purge removes every item of this queue type, visible or not, and reports
// the count.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	ctx, span := q.startSpan(ctx, "queue.purge")
	defer span.End()

	n, err := q.store.DeleteAll(ctx, q.queueType)
	if err != nil {
		return 0, q.fault(span, "purge", fmt.Errorf("purge: %w", err))
	}
	return n, nil
}

// Count reports the number of items of this queue type, including items that
// are not yet visible. It does not interact with the claim protocol.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	ctx, span := q.startSpan(ctx, "queue.count")
	defer span.End()

	n, err := q.store.Count(ctx, q.queueType)
	if err != nil {
		return 0, q.fault(span, "count", fmt.Errorf("count: %w", err))
	}
	return n, nil
}

// Stats describes a queue at a point in time. Ready counts items eligible
// for claiming right now; leased and not-yet-visible items are only part of
// Total.
type Stats struct {
	Total int64 `json:"total"`
	Ready int64 `json:"ready"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	ctx, span := q.startSpan(ctx, "queue.stats")
	defer span.End()

	total, err := q.store.Count(ctx, q.queueType)
	if err != nil {
		return Stats{}, q.fault(span, "stats", fmt.Errorf("stats: %w", err))
	}
	ready, err := q.store.CountReady(ctx, q.queueType, q.nowFn().UTC())
	if err != nil {
		return Stats{}, q.fault(span, "stats", fmt.Errorf("stats: %w", err))
	}
	return Stats{Total: total, Ready: ready}, nil
}

// Close releases the underlying store handle. Idempotent; every queue
// sharing the store loses it.
func (q *Queue) Close() error {
	return q.store.Close()
}

// QueueType returns the logical queue name this instance operates on.
func (q *Queue) QueueType() string { return q.queueType }

func (q *Queue) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return q.tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("dokq.queue_type", q.queueType)))
}

func (q *Queue) fault(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	q.logger.Error("queue_store_fault",
		slog.String("op", op),
		slog.String("queue_type", q.queueType),
		slog.Any("err", err),
	)
	return err
}
