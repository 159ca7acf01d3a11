package bus

import (
	"context"
	"sync"

	"github.com/hupe1980/agentcoord/core"
)

// HistoryStore is the append-only message log behind a Bus. Implementations
// must be safe for concurrent appenders and preserve append order.
type HistoryStore interface {
	// Append records a published message.
	Append(ctx context.Context, msg core.Message) error
	// Recent returns up to limit messages, most recent last. A non-positive
	// limit returns everything retained.
	Recent(ctx context.Context, limit int) ([]core.Message, error)
	// Len returns the number of retained messages.
	Len(ctx context.Context) (int, error)
}

// DefaultMaxEntries bounds the in-memory history.
const DefaultMaxEntries = 10000

// MemoryHistory keeps the message log in a slice guarded by a single writer
// lock. Once MaxEntries is exceeded the oldest entries are discarded.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []core.Message
	max     int
}

// NewMemoryHistory creates an in-memory history. maxEntries <= 0 selects
// DefaultMaxEntries.
func NewMemoryHistory(maxEntries int) *MemoryHistory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryHistory{max: maxEntries}
}

// Append implements HistoryStore.
func (h *MemoryHistory) Append(_ context.Context, msg core.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, msg)
	if over := len(h.entries) - h.max; over > 0 {
		kept := make([]core.Message, h.max, h.max+h.max/4)
		copy(kept, h.entries[over:])
		h.entries = kept
	}
	return nil
}

// Recent implements HistoryStore. The returned slice is a copy.
func (h *MemoryHistory) Recent(_ context.Context, limit int) ([]core.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(h.entries) {
		start = len(h.entries) - limit
	}
	out := make([]core.Message, len(h.entries)-start)
	copy(out, h.entries[start:])
	return out, nil
}

// Len implements HistoryStore.
func (h *MemoryHistory) Len(_ context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries), nil
}
