package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS queue_items (
  id         TEXT PRIMARY KEY,
  queue_type TEXT NOT NULL,
  visible_at INTEGER NOT NULL,
  attempts   INTEGER NOT NULL,
  payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_items_type
  ON queue_items(queue_type);
CREATE INDEX IF NOT EXISTS idx_queue_items_ready
  ON queue_items(queue_type, visible_at);
`

// SQLiteStore persists queue items in a SQLite database file. Claims run
// inside BEGIN IMMEDIATE transactions, so concurrent claimants in any number
// of processes sharing the file observe each item at most once.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	ctx := context.Background()

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		return fmt.Errorf("sqlite: journal_mode=%q, want wal", journalMode)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=FULL;"); err != nil {
		return fmt.Errorf("sqlite: set synchronous=full: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	return s.migrate(ctx)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_, _ = conn.ExecContext(ctx, "ROLLBACK;")
	}()

	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("sqlite: init migrations table: %w", err)
	}

	var current int
	hasVersion := true
	err = conn.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1;`).Scan(&current)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: read schema_version: %w", err)
		}
		current = 0
		hasVersion = false
	}
	if current > sqliteSchemaVersion {
		return fmt.Errorf("sqlite: schema_version=%d, want <=%d", current, sqliteSchemaVersion)
	}

	for v := current + 1; v <= sqliteSchemaVersion; v++ {
		switch v {
		case 1:
			if _, err := conn.ExecContext(ctx, sqliteSchemaV1); err != nil {
				return fmt.Errorf("sqlite: migrate v1: %w", err)
			}
		default:
			return fmt.Errorf("sqlite: unknown migration %d", v)
		}
	}

	if !hasVersion || current != sqliteSchemaVersion {
		if _, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations(rowid, version) VALUES (1, ?);`, sqliteSchemaVersion); err != nil {
			return fmt.Errorf("sqlite: write schema_version: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (Record, error) {
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
VALUES (?, ?, ?, ?, ?);
`,
		rec.ID,
		rec.QueueType,
		rec.VisibleAt.UnixNano(),
		rec.Attempts,
		rec.Payload,
	)
	if err != nil {
		if isSQLiteConstraintError(err) {
			return Record{}, ErrDuplicateItem
		}
		return Record{}, fmt.Errorf("sqlite: insert: %w", err)
	}
	return rec, nil
}

func isSQLiteConstraintError(err error) bool {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended sqlite result codes include base code in the lower 8 bits.
	const sqliteConstraintBase = 19
	return sqliteErr.Code()&0xff == sqliteConstraintBase
}

func (s *SQLiteStore) ClaimNext(ctx context.Context, queueType string, now, leaseUntil time.Time) (Record, bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Record{}, false, fmt.Errorf("sqlite: claim: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		return Record{}, false, fmt.Errorf("sqlite: claim: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_, _ = conn.ExecContext(ctx, "ROLLBACK;")
	}()

	var (
		rec            Record
		visibleAtNanos int64
	)
	err = conn.QueryRowContext(ctx, `
SELECT id, queue_type, visible_at, attempts, payload
FROM queue_items
WHERE queue_type = ?
  AND visible_at <= ?
ORDER BY visible_at ASC, id ASC
LIMIT 1;
`,
		queueType,
		now.UTC().UnixNano(),
	).Scan(&rec.ID, &rec.QueueType, &visibleAtNanos, &rec.Attempts, &rec.Payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
				return Record{}, false, fmt.Errorf("sqlite: claim: %w", err)
			}
			committed = true
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("sqlite: claim: %w", err)
	}

	rec.Attempts--
	rec.VisibleAt = leaseUntil.UTC()

	if rec.Attempts <= 0 {
		// Exhausted: removing the row here, inside the claim transaction,
		// keeps the bounded-attempts guarantee even if the process dies
		// right after commit.
		if _, err := conn.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?;`, rec.ID); err != nil {
			return Record{}, false, fmt.Errorf("sqlite: claim: %w", err)
		}
	} else {
		if _, err := conn.ExecContext(ctx, `
UPDATE queue_items SET visible_at = ?, attempts = ? WHERE id = ?;
`,
			rec.VisibleAt.UnixNano(),
			rec.Attempts,
			rec.ID,
		); err != nil {
			return Record{}, false, fmt.Errorf("sqlite: claim: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return Record{}, false, fmt.Errorf("sqlite: claim: %w", err)
	}
	committed = true
	return rec, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?;`, id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteAll(ctx context.Context, queueType string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE queue_type = ?;`, queueType)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete all: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Count(ctx context.Context, queueType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM queue_items WHERE queue_type = ?;
`, queueType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountReady(ctx context.Context, queueType string, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM queue_items WHERE queue_type = ? AND visible_at <= ?;
`, queueType, now.UTC().UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count ready: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
