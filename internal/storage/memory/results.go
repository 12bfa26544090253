package memory

import (
	"context"
	"sync"

	"github.com/slok/postsched/internal/model"
)

// ResultLog is an in-memory implementation of storage.ResultRepository.
type ResultLog struct {
	entries []model.LogEntry
	mu      sync.Mutex
}

// NewResultLog creates a new memory result log.
func NewResultLog() *ResultLog {
	return &ResultLog{}
}

// Append stores the entry.
func (r *ResultLog) Append(ctx context.Context, entry model.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	return nil
}

// ListResults returns a copy of the stored entries in append order.
func (r *ResultLog) ListResults(ctx context.Context) ([]model.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]model.LogEntry(nil), r.entries...), nil
}
