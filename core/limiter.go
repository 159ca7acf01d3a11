package core

import (
	"fmt"
	"sync"
)

// CallLimiter caps the number of external calls (for example model
// generations) an agent may make over its lifetime.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter. If max == 0, calls are unlimited.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Acquire reserves one call. It fails once the budget is exhausted and does
// not count the rejected attempt.
func (l *CallLimiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("call budget of %d exhausted: %w", l.max, ErrInvalidArgument)
	}
	l.count++

	return nil
}

// Count returns the number of calls reserved so far.
func (l *CallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (l *CallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1
	}
	return l.max - l.count
}
