// Package bus implements the in-process message bus: one bounded queue per
// subscriber, addressed by agent id, role or broadcast, with every published
// message appended to a HistoryStore.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

const (
	// DefaultQueueCapacity is the per-subscriber queue length.
	DefaultQueueCapacity = 64
	// DefaultDeliveryTimeout is how long Publish waits on a full queue.
	DefaultDeliveryTimeout = 100 * time.Millisecond
)

// Filter decides whether a role-targeted or broadcast message may be
// delivered to a subscriber. Direct messages bypass the filter.
type Filter func(msg core.Message, agentID string, role core.Role) bool

// Options configures a Bus.
type Options struct {
	QueueCapacity   int
	DeliveryTimeout time.Duration
	History         HistoryStore
	Filter          Filter
	Logger          logging.Logger
}

// Stats are cumulative delivery counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Bus is a publish/subscribe channel with explicit bounded queues.
type Bus struct {
	opts Options

	mu   sync.RWMutex
	subs map[string]*Subscription

	filterMu sync.RWMutex
	filter   Filter

	closed    atomic.Bool
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		QueueCapacity:   DefaultQueueCapacity,
		DeliveryTimeout: DefaultDeliveryTimeout,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.History == nil {
		opts.History = NewMemoryHistory(DefaultMaxEntries)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	opts.Logger = logging.Component(opts.Logger, "bus")

	return &Bus{
		opts:   opts,
		subs:   make(map[string]*Subscription),
		filter: opts.Filter,
	}
}

// SetFilter replaces the delivery filter for role and broadcast messages.
func (b *Bus) SetFilter(f Filter) {
	b.filterMu.Lock()
	b.filter = f
	b.filterMu.Unlock()
}

// Subscribe opens the queue for an agent. Each agent id may hold one
// subscription at a time.
func (b *Bus) Subscribe(agentID string, role core.Role) (*Subscription, error) {
	if agentID == "" {
		return nil, fmt.Errorf("bus: agent id is required: %w", core.ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, fmt.Errorf("bus closed: %w", core.ErrCommunication)
	}
	if _, exists := b.subs[agentID]; exists {
		return nil, fmt.Errorf("subscription for %s: %w", agentID, core.ErrDuplicateID)
	}

	s := &Subscription{
		agentID: agentID,
		role:    role,
		ch:      make(chan core.Message, b.opts.QueueCapacity),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.subs[agentID] = s
	b.opts.Logger.Debug("Subscribed", "agent_id", agentID, "role", role)
	return s, nil
}

// Publish assigns an id and timestamp when missing, appends the message to
// the history and delivers it to every addressed subscriber. No bus lock is
// held while waiting on a full queue.
func (b *Bus) Publish(ctx context.Context, msg core.Message) error {
	if b.closed.Load() {
		return fmt.Errorf("publish %s: bus closed: %w", msg.Type, core.ErrCommunication)
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := b.opts.History.Append(ctx, msg); err != nil {
		return fmt.Errorf("append history: %w: %w", core.ErrCommunication, err)
	}
	b.published.Add(1)

	targets := b.targets(msg)
	if len(targets) == 0 {
		return nil
	}

	var blocked []*Subscription
	for _, s := range targets {
		if !s.offer(msg) {
			blocked = append(blocked, s)
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	deadline := time.Now().Add(b.opts.DeliveryTimeout)
	var wg conc.WaitGroup
	for _, s := range blocked {
		wg.Go(func() {
			if !s.deliver(ctx, msg, deadline) {
				b.dropped.Add(1)
				b.opts.Logger.Warn("Dropped message for slow subscriber",
					"agent_id", s.agentID, "message_id", msg.ID, "type", msg.Type)
			}
		})
	}
	wg.Wait()
	return nil
}

// targets snapshots the subscribers addressed by msg.
func (b *Bus) targets(msg core.Message) []*Subscription {
	b.filterMu.RLock()
	filter := b.filter
	b.filterMu.RUnlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if msg.Recipient.Kind == core.RecipientAgent {
		if s, ok := b.subs[msg.Recipient.AgentID]; ok {
			return []*Subscription{s}
		}
		return nil
	}

	out := make([]*Subscription, 0, len(b.subs))
	for id, s := range b.subs {
		if id == msg.Sender || !msg.Recipient.Matches(id, s.role) {
			continue
		}
		if filter != nil && !filter(msg, id, s.role) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// History returns up to limit messages, most recent last.
func (b *Bus) History(ctx context.Context, limit int) ([]core.Message, error) {
	return b.opts.History.Recent(ctx, limit)
}

// MessageCount returns the number of retained history entries.
func (b *Bus) MessageCount(ctx context.Context) int {
	n, err := b.opts.History.Len(ctx)
	if err != nil {
		b.opts.Logger.Warn("History length unavailable", "error", err.Error())
		return 0
	}
	return n
}

// Stats returns delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool { return b.closed.Load() }

// Close ends every subscription. Later publishes fail with ErrCommunication.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
	b.opts.Logger.Info("Bus closed", "subscribers", len(subs))
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	if cur, ok := b.subs[s.agentID]; ok && cur == s {
		delete(b.subs, s.agentID)
	}
	b.mu.Unlock()
}
