// Package sqlite stores entities in a single SQLite table keyed by
// (table_name, partition_key, row_key). Compare-and-swap is a conditional
// UPDATE on the etag column, so it is atomic without explicit transactions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
    table_name     TEXT NOT NULL,
    partition_key  TEXT NOT NULL,
    row_key        TEXT NOT NULL,
    data           BLOB NOT NULL,
    etag           TEXT NOT NULL,
    updated_at     TEXT NOT NULL,
    PRIMARY KEY (table_name, partition_key, row_key)
);
`

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ entitystore.Store = (*Store)(nil)

// Open opens (or creates) the database at path. WAL lets a Scan cursor stay
// open while other connections write.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, table, partitionKey, rowKey string) (entitystore.Entity, error) {
	const q = `
		SELECT partition_key, row_key, data, etag, updated_at
		FROM   entities
		WHERE  table_name = ? AND partition_key = ? AND row_key = ?`

	e, err := scanEntity(s.db.QueryRowContext(ctx, q, table, partitionKey, rowKey))
	if errors.Is(err, sql.ErrNoRows) {
		return entitystore.Entity{}, entitystore.ErrNotFound
	}
	if err != nil {
		return entitystore.Entity{}, fmt.Errorf("sqlite: get %s/%s/%s: %w", table, partitionKey, rowKey, err)
	}
	return e, nil
}

func (s *Store) Put(ctx context.Context, table string, e entitystore.Entity, expected entitystore.ETag) (entitystore.ETag, error) {
	tag := entitystore.ETag(uuid.NewString())
	now := s.now().Format(timeLayout)

	if expected == entitystore.IfAbsent {
		const q = `
			INSERT INTO entities (table_name, partition_key, row_key, data, etag, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (table_name, partition_key, row_key) DO NOTHING`

		res, err := s.db.ExecContext(ctx, q, table, e.PartitionKey, e.RowKey, e.Data, string(tag), now)
		if err != nil {
			return "", fmt.Errorf("sqlite: insert %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", entitystore.ErrConflict
		}
		return tag, nil
	}

	const q = `
		UPDATE entities
		SET    data = ?, etag = ?, updated_at = ?
		WHERE  table_name = ? AND partition_key = ? AND row_key = ? AND etag = ?`

	res, err := s.db.ExecContext(ctx, q, e.Data, string(tag), now, table, e.PartitionKey, e.RowKey, string(expected))
	if err != nil {
		return "", fmt.Errorf("sqlite: update %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return tag, nil
	}

	// Nothing matched: the row is either gone or carries a newer etag.
	if _, err := s.Get(ctx, table, e.PartitionKey, e.RowKey); err != nil {
		return "", err
	}
	return "", entitystore.ErrConflict
}

func (s *Store) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	const q = `DELETE FROM entities WHERE table_name = ? AND partition_key = ? AND row_key = ?`

	res, err := s.db.ExecContext(ctx, q, table, partitionKey, rowKey)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s/%s/%s: %w", table, partitionKey, rowKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entitystore.ErrNotFound
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, table string, match entitystore.Predicate) iter.Seq2[entitystore.Entity, error] {
	return func(yield func(entitystore.Entity, error) bool) {
		const q = `
			SELECT partition_key, row_key, data, etag, updated_at
			FROM   entities
			WHERE  table_name = ?`

		rows, err := s.db.QueryContext(ctx, q, table)
		if err != nil {
			yield(entitystore.Entity{}, fmt.Errorf("sqlite: scan %s: %w", table, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntity(rows)
			if err != nil {
				if !yield(entitystore.Entity{}, fmt.Errorf("sqlite: scan %s: %w", table, err)) {
					return
				}
				continue
			}
			if match != nil && !match(e) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(entitystore.Entity{}, fmt.Errorf("sqlite: scan %s: %w", table, err))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(r rowScanner) (entitystore.Entity, error) {
	var (
		e         entitystore.Entity
		etag      string
		updatedAt string
	)
	if err := r.Scan(&e.PartitionKey, &e.RowKey, &e.Data, &etag, &updatedAt); err != nil {
		return entitystore.Entity{}, err
	}
	e.ETag = entitystore.ETag(etag)

	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return entitystore.Entity{}, fmt.Errorf("parse time %q: %w", updatedAt, err)
	}
	e.Timestamp = t
	return e, nil
}
