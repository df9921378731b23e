package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS queue_items (
  id         TEXT PRIMARY KEY,
  queue_type TEXT NOT NULL,
  visible_at TIMESTAMPTZ NOT NULL,
  attempts   INTEGER NOT NULL,
  payload    BYTEA NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_items_type
  ON queue_items(queue_type);
CREATE INDEX IF NOT EXISTS idx_queue_items_ready
  ON queue_items(queue_type, visible_at);
`

// PostgresStore persists queue items in Postgres. A claim is one transaction
// around SELECT ... FOR UPDATE SKIP LOCKED on a single row, so racing
// claimants across processes either get different rows or an empty result.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &PostgresStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init() error {
	_, err := s.db.ExecContext(context.Background(), postgresSchema)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := validateRecord(rec); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = newItemID()
	}
	rec.VisibleAt = rec.VisibleAt.UTC()
	if rec.Payload == nil {
		rec.Payload = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO queue_items (id, queue_type, visible_at, attempts, payload)
VALUES ($1, $2, $3, $4, $5)
`,
		rec.ID,
		rec.QueueType,
		rec.VisibleAt,
		rec.Attempts,
		rec.Payload,
	)
	if err != nil {
		return Record{}, mapPostgresInsertError(err)
	}
	return rec, nil
}

func (s *PostgresStore) ClaimNext(ctx context.Context, queueType string, now, leaseUntil time.Time) (Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, fmt.Errorf("postgres: claim: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback()
	}()

	var rec Record
	err = tx.QueryRowContext(ctx, `
SELECT id, queue_type, visible_at, attempts, payload
FROM queue_items
WHERE queue_type = $1
  AND visible_at <= $2
ORDER BY visible_at ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED
`,
		queueType,
		now.UTC(),
	).Scan(&rec.ID, &rec.QueueType, &rec.VisibleAt, &rec.Attempts, &rec.Payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if err := tx.Commit(); err != nil {
				return Record{}, false, fmt.Errorf("postgres: claim: %w", err)
			}
			committed = true
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("postgres: claim: %w", err)
	}

	rec.Attempts--
	rec.VisibleAt = leaseUntil.UTC()

	if rec.Attempts <= 0 {
		// The row is locked; deleting it in the claim transaction closes the
		// window in which an exhausted item could still match the visibility
		// predicate.
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = $1`, rec.ID); err != nil {
			return Record{}, false, fmt.Errorf("postgres: claim: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
UPDATE queue_items SET visible_at = $1, attempts = $2 WHERE id = $3
`,
			rec.VisibleAt,
			rec.Attempts,
			rec.ID,
		); err != nil {
			return Record{}, false, fmt.Errorf("postgres: claim: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("postgres: claim: %w", err)
	}
	committed = true
	rec.VisibleAt = rec.VisibleAt.UTC()
	return rec, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) DeleteAll(ctx context.Context, queueType string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE queue_type = $1`, queueType)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete all: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Count(ctx context.Context, queueType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM queue_items WHERE queue_type = $1
`, queueType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountReady(ctx context.Context, queueType string, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM queue_items WHERE queue_type = $1 AND visible_at <= $2
`, queueType, now.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count ready: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func mapPostgresInsertError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateItem
	}
	return fmt.Errorf("postgres: insert: %w", err)
}
