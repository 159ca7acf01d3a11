package knowledge

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/agentcoord/core"
)

// MemoryStore is a naive process-local Store.
//
// Concurrency: protected by RWMutex.
// Search: linear scan scoring each document by the share of query terms it
// contains. Documents without any query term are not returned. An empty
// query matches everything with score 1. Suitable for tests and demos; use
// BleveStore or ChromemStore for real retrieval.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]Document
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// Add stores documents. Re-adding an id replaces its content.
func (m *MemoryStore) Add(_ context.Context, docs ...Document) error {
	prepared, err := prepare(docs)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range prepared {
		if _, exists := m.docs[d.ID]; !exists {
			m.order = append(m.order, d.ID)
		}
		m.docs[d.ID] = d
	}
	return nil
}

// Search returns up to topK documents ranked by term overlap.
func (m *MemoryStore) Search(_ context.Context, query string, k int) ([]core.SearchResult, error) {
	want := terms(query)

	m.mu.RLock()
	results := make([]core.SearchResult, 0, len(m.docs))
	for _, id := range m.order {
		d := m.docs[id]
		score := 1.0
		if len(want) > 0 {
			have := terms(d.Content)
			hits := 0
			for _, t := range want {
				if _, ok := slices.BinarySearch(have, t); ok {
					hits++
				}
			}
			if hits == 0 {
				continue
			}
			score = float64(hits) / float64(len(want))
		}
		results = append(results, core.SearchResult{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: maps.Clone(d.Metadata),
			Score:    score,
		})
	}
	m.mu.RUnlock()

	rank(results)
	if k = topK(k); len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes a document by id.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[id]; !exists {
		return fmt.Errorf("document %s: %w", id, core.ErrInvalidArgument)
	}
	delete(m.docs, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
	return nil
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
