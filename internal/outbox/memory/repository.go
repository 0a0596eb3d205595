// Package memory provides an in-process outbox repository. Records do not
// survive a restart; it backs tests and the "memory" storage driver.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/anonchat/edgeworker/internal/domain"
)

// Repository implements outbox.Repository with a map.
type Repository struct {
	mu      sync.RWMutex
	records map[string]*domain.QueuedMessage
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{records: make(map[string]*domain.QueuedMessage)}
}

// Save stores a copy of msg.
func (r *Repository) Save(_ context.Context, msg *domain.QueuedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[msg.ID] = clone(msg)
	return nil
}

// Delete removes the record with id.
func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

// List returns copies of all records, oldest first.
func (r *Repository) List(_ context.Context) ([]*domain.QueuedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.QueuedMessage, 0, len(r.records))
	for _, m := range r.records {
		out = append(out, clone(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// Get returns a copy of one record.
func (r *Repository) Get(id string) (*domain.QueuedMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return clone(m), true
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func clone(m *domain.QueuedMessage) *domain.QueuedMessage {
	c := *m
	if m.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}
