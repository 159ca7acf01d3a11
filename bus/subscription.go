package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/core"
)

// Subscription is an agent's bounded inbound queue. The message channel is
// never closed; use Done to detect the end of the subscription.
type Subscription struct {
	agentID string
	role    core.Role
	ch      chan core.Message
	done    chan struct{}
	once    sync.Once
	bus     *Bus
}

// AgentID returns the subscriber id.
func (s *Subscription) AgentID() string { return s.agentID }

// Role returns the subscriber role.
func (s *Subscription) Role() core.Role { return s.role }

// C exposes the queue for select loops.
func (s *Subscription) C() <-chan core.Message { return s.ch }

// Done is closed when the subscription or the bus is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Len returns the number of queued messages.
func (s *Subscription) Len() int { return len(s.ch) }

// Receive blocks until a message arrives, the subscription ends or ctx is
// done.
func (s *Subscription) Receive(ctx context.Context) (core.Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return core.Message{}, fmt.Errorf("subscription %s closed: %w", s.agentID, core.ErrCommunication)
	case <-ctx.Done():
		return core.Message{}, ctx.Err()
	}
}

// TryReceive returns a queued message without blocking.
func (s *Subscription) TryReceive() (core.Message, bool) {
	select {
	case msg := <-s.ch:
		return msg, true
	default:
		return core.Message{}, false
	}
}

// Close detaches the subscription from the bus. It is idempotent.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() { close(s.done) })
}

// offer enqueues without blocking.
func (s *Subscription) offer(msg core.Message) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.ch <- msg:
		s.bus.delivered.Add(1)
		return true
	default:
		return false
	}
}

// deliver waits for queue space until deadline.
func (s *Subscription) deliver(ctx context.Context, msg core.Message, deadline time.Time) bool {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case s.ch <- msg:
		s.bus.delivered.Add(1)
		return true
	case <-s.done:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
