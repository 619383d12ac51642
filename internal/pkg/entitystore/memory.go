package entitystore

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
)

type rowID struct {
	partitionKey string
	rowKey       string
}

// Memory is an in-process Store used for local runs and tests.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[rowID]Entity
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]map[rowID]Entity),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.tables[table][rowID{partitionKey, rowKey}]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return clone(e), nil
}

func (m *Memory) Put(ctx context.Context, table string, e Entity, expected ETag) (ETag, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[rowID]Entity)
		m.tables[table] = rows
	}

	id := rowID{e.PartitionKey, e.RowKey}
	current, exists := rows[id]
	switch {
	case expected == IfAbsent && exists:
		return "", ErrConflict
	case expected != IfAbsent && !exists:
		return "", ErrNotFound
	case exists && current.ETag != expected:
		return "", ErrConflict
	}

	stored := clone(e)
	stored.ETag = ETag(uuid.NewString())
	stored.Timestamp = m.now()
	rows[id] = stored
	return stored.ETag, nil
}

func (m *Memory) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := rowID{partitionKey, rowKey}
	if _, ok := m.tables[table][id]; !ok {
		return ErrNotFound
	}
	delete(m.tables[table], id)
	return nil
}

// Scan iterates a snapshot taken when iteration starts, so the loop body may
// write to the same table.
func (m *Memory) Scan(ctx context.Context, table string, match Predicate) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		m.mu.RLock()
		snapshot := make([]Entity, 0, len(m.tables[table]))
		for _, e := range m.tables[table] {
			if match.matches(e) {
				snapshot = append(snapshot, clone(e))
			}
		}
		m.mu.RUnlock()

		for _, e := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(Entity{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func clone(e Entity) Entity {
	e.Data = append([]byte(nil), e.Data...)
	return e
}
