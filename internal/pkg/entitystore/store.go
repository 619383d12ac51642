// Package entitystore is a schema-light table store with optimistic
// concurrency. Rows are addressed by (table, partition key, row key) and carry
// an opaque ETag that changes on every successful write.
//
// Writers read a row, keep its ETag, and hand it back on Put. A Put whose ETag
// no longer matches fails with ErrConflict instead of overwriting. Passing
// IfAbsent makes Put create-only.
package entitystore

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	ErrNotFound = errors.New("entitystore: entity not found")
	ErrConflict = errors.New("entitystore: etag mismatch")
)

// ETag is the version token of a stored row.
type ETag string

// IfAbsent is the expected ETag for create-only writes.
const IfAbsent ETag = ""

type Entity struct {
	PartitionKey string
	RowKey       string
	// Data is the JSON document stored for the row.
	Data      []byte
	ETag      ETag
	Timestamp time.Time
}

// Store is implemented by every backend. Tables are created on first use.
type Store interface {
	Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error)
	// Put writes e when the stored ETag equals expected and returns the new
	// ETag. With IfAbsent it fails with ErrConflict if the row exists; with any
	// other value it fails with ErrNotFound if the row is gone.
	Put(ctx context.Context, table string, e Entity, expected ETag) (ETag, error)
	Delete(ctx context.Context, table, partitionKey, rowKey string) error
	// Scan yields matching rows lazily and in no particular order. A nil
	// predicate matches everything.
	Scan(ctx context.Context, table string, match Predicate) iter.Seq2[Entity, error]
}

type Predicate func(Entity) bool

func InPartition(partitionKey string) Predicate {
	return func(e Entity) bool { return e.PartitionKey == partitionKey }
}

func (p Predicate) matches(e Entity) bool {
	return p == nil || p(e)
}
