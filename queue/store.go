package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStoreClosed    = errors.New("store is closed")
	ErrEmptyQueueType = errors.New("queue type is required")
	ErrBadAttempts    = errors.New("attempts must be at least 1")
	ErrDuplicateItem  = errors.New("item id already exists")
)

// Record is the persisted document shape. One table (or map) holds every
// queue in the store; rows are partitioned by QueueType only.
type Record struct {
	ID        string
	QueueType string
	VisibleAt time.Time
	Attempts  int
	Payload   []byte
}

// Store is the document store gateway. Implementations provide the atomic
// primitives the queue core builds on; ClaimNext is the single point of
// serialization and must be atomic per document.
//
// A Store value is safe for concurrent use and may be shared by any number of
// Queue instances; its lifecycle belongs to whoever constructed it.
type Store interface {
	// Insert persists a new record, assigning an id when none is set, and
	// returns the stored record.
	Insert(ctx context.Context, rec Record) (Record, error)

	// ClaimNext atomically selects the record with the smallest VisibleAt
	// among {QueueType == queueType, VisibleAt <= now}, sets its VisibleAt to
	// leaseUntil and decrements Attempts, returning the post-mutation record.
	// A record whose Attempts reach 0 is deleted within the same atomic unit.
	// The second return is false when no record is eligible.
	ClaimNext(ctx context.Context, queueType string, now, leaseUntil time.Time) (Record, bool, error)

	// Delete removes the record with the given id and reports how many
	// records were removed (0 or 1). Missing ids are not an error.
	Delete(ctx context.Context, id string) (int64, error)

	// DeleteAll removes every record of the queue type, regardless of
	// visibility or attempts, and reports the count.
	DeleteAll(ctx context.Context, queueType string) (int64, error)

	// Count reports the number of records of the queue type, including
	// records that are not yet visible.
	Count(ctx context.Context, queueType string) (int64, error)

	// CountReady reports the number of records of the queue type whose
	// VisibleAt is at or before now.
	CountReady(ctx context.Context, queueType string, now time.Time) (int64, error)

	Close() error
}

func validateRecord(rec Record) error {
	if rec.QueueType == "" {
		return ErrEmptyQueueType
	}
	if rec.Attempts < 1 {
		return ErrBadAttempts
	}
	return nil
}
