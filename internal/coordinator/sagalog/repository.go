package sagalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository persists placement log entries.
type Repository interface {
	// Save appends entry. Rows are never updated.
	Save(ctx context.Context, entry *SagaLog) error
	// GetLatest returns the newest row for sagaID or ErrNotFound.
	GetLatest(ctx context.Context, sagaID string) (*SagaLog, error)
	// ListUnsettled returns the newest row of every saga whose state is not
	// settled and that has not changed since before, oldest first. Payload is
	// taken from the saga's STARTED row.
	ListUnsettled(ctx context.Context, before time.Time) ([]*SagaLog, error)
}

// MemoryRepository keeps the log in process.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []SagaLog
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Save(_ context.Context, entry *SagaLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryRepository) GetLatest(_ context.Context, sagaID string) (*SagaLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].SagaID == sagaID {
			e := r.entries[i]
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) ListUnsettled(_ context.Context, before time.Time) ([]*SagaLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	latest := make(map[string]SagaLog)
	payloads := make(map[string]string)
	for _, e := range r.entries {
		latest[e.SagaID] = e
		if e.Status == StatusStarted {
			payloads[e.SagaID] = e.Payload
		}
	}

	var out []*SagaLog
	for id, e := range latest {
		if e.Status.Settled() || !e.UpdatedAt.Before(before) {
			continue
		}
		e.Payload = payloads[id]
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// History returns every row for sagaID in write order.
func (r *MemoryRepository) History(sagaID string) []SagaLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SagaLog
	for _, e := range r.entries {
		if e.SagaID == sagaID {
			out = append(out, e)
		}
	}
	return out
}
