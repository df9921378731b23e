// Package worker runs a pool of consumers over a queue. Each consumer loops
// claim, handle, acknowledge; handler failures leave the item leased so the
// store redelivers it once the lease lapses.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuetzliches/dokq/queue"
)

const (
	DefaultWorkers      = 4
	DefaultPollInterval = time.Second
)

// Handler processes one claimed item. Returning nil acknowledges the item;
// returning an error leaves it for redelivery until its attempts run out.
type Handler func(ctx context.Context, item *queue.Item) error

// Pool drains a queue with a fixed number of concurrent consumers.
type Pool struct {
	queue        *queue.Queue
	handler      Handler
	workers      int
	pollInterval time.Duration
	lease        time.Duration
	logger       *slog.Logger
}

type Option func(*Pool)

// WithWorkers sets the number of concurrent consumers.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n >= 1 {
			p.workers = n
		}
	}
}

// WithPollInterval sets how long an idle consumer sleeps before retrying an
// empty queue.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithLeaseFor overrides the queue's default lease for claims made by this
// pool. Leases should comfortably exceed handler runtime, otherwise an item
// is redelivered while still being processed.
func WithLeaseFor(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.lease = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(q *queue.Queue, handler Handler, opts ...Option) *Pool {
	p := &Pool{
		queue:        q,
		handler:      handler,
		workers:      DefaultWorkers,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or a store fault stops a consumer. A
// cancelled context is a normal shutdown and returns nil.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.consume(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) consume(ctx context.Context) error {
	var claimOpts []queue.ClaimOption
	if p.lease > 0 {
		claimOpts = append(claimOpts, queue.WithLeaseFor(p.lease))
	}

	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := p.queue.Claim(ctx, claimOpts...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if item == nil {
			timer.Reset(p.pollInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		if err := p.handler(ctx, item); err != nil {
			// Not acknowledged; the store redelivers after the lease unless
			// this was the item's last attempt.
			p.logger.Error("worker_handler_failed",
				slog.String("item_id", item.ID),
				slog.String("queue_type", p.queue.QueueType()),
				slog.Int("attempts_left", item.Attempts),
				slog.Any("err", err),
			)
			continue
		}

		if _, err := p.queue.Acknowledge(ctx, item.ID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
