// Package hub implements the Communication Hub: the agent registry, vote and
// consensus bookkeeping, task allocation, work dispatch, liveness checks and
// access to the message history. A Hub is safe for concurrent use by many
// agent workers and strategies.
package hub

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

// ID is the sender id used for messages originating from the hub.
const ID = "hub"

// Options configures a Hub.
type Options struct {
	// HeartbeatInterval is the liveness check period.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how old a heartbeat may be before the agent is
	// marked Dead.
	HeartbeatTimeout time.Duration
	// LivenessSchedule overrides the cron spec for the liveness check.
	// Empty means "@every <HeartbeatInterval>".
	LivenessSchedule string
	// DefaultVoteTimeout applies when RequestVote gets a non-positive timeout.
	DefaultVoteTimeout time.Duration
	// BidTimeout bounds how long an auction collects bids.
	BidTimeout time.Duration
	// VoteRetention is how long closed votes stay queryable.
	VoteRetention time.Duration
	// Now is the clock used for heartbeats and deadlines.
	Now    func() time.Time
	Logger logging.Logger
}

// Hub owns the agent arena and all coordination state.
type Hub struct {
	bus  *bus.Bus
	opts Options
	log  logging.Logger

	mu          sync.RWMutex
	agents      map[string]*core.AgentInfo
	votes       map[string]*vote
	auctions    map[string]*auction
	gathers     map[string]*gather
	allocations map[string]core.Allocation
	rrCursor    int

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New creates a Hub on top of b and installs the delivery filter that keeps
// role and broadcast messages away from agents that are not Active or Idle.
func New(b *bus.Bus, optFns ...func(o *Options)) *Hub {
	opts := Options{
		HeartbeatInterval:  5 * time.Second,
		HeartbeatTimeout:   15 * time.Second,
		DefaultVoteTimeout: 10 * time.Second,
		BidTimeout:         2 * time.Second,
		VoteRetention:      10 * time.Minute,
		Now:                time.Now,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Hub{
		bus:         b,
		opts:        opts,
		log:         logging.Component(opts.Logger, "hub"),
		agents:      make(map[string]*core.AgentInfo),
		votes:       make(map[string]*vote),
		auctions:    make(map[string]*auction),
		gathers:     make(map[string]*gather),
		allocations: make(map[string]core.Allocation),
	}
	b.SetFilter(h.deliverable)
	return h
}

// Bus returns the underlying message bus.
func (h *Hub) Bus() *bus.Bus { return h.bus }

func (h *Hub) now() time.Time { return h.opts.Now().UTC() }

func (h *Hub) deliverable(_ core.Message, agentID string, _ core.Role) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[agentID]
	return ok && a.State.CanReceiveRoleMessages()
}

// RegisterAgent adds an agent to the arena in state Registered. Without
// explicit capabilities the role defaults apply.
func (h *Hub) RegisterAgent(id string, role core.Role, capabilities ...string) error {
	if id == "" {
		return fmt.Errorf("agent id is required: %w", core.ErrInvalidArgument)
	}
	if _, err := core.ParseRole(string(role)); err != nil {
		return err
	}
	if len(capabilities) == 0 {
		capabilities = core.DefaultCapabilities(role)
	}

	now := h.now()
	h.mu.Lock()
	if _, exists := h.agents[id]; exists {
		h.mu.Unlock()
		return fmt.Errorf("register %s: %w", id, core.ErrAgentAlreadyRegistered)
	}
	h.agents[id] = &core.AgentInfo{
		ID:            id,
		Role:          role,
		Capabilities:  slices.Clone(capabilities),
		State:         core.StateRegistered,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	h.mu.Unlock()

	h.log.Info("Agent registered", "agent_id", id, "role", role)
	h.record(core.NewMessage(core.MessageStatusUpdate, id, core.ToAgent(ID), map[string]any{
		"event": "registered", "role": string(role),
	}))
	return nil
}

// DeregisterAgent removes an agent from the arena. Pending votes, auctions
// and gathers stop waiting for it.
func (h *Hub) DeregisterAgent(id string) error {
	h.mu.Lock()
	a, ok := h.agents[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("deregister %s: %w", id, core.ErrAgentNotFound)
	}
	a.State = core.StateDeregistered
	delete(h.agents, id)
	notify := h.agentGoneLocked(id)
	h.mu.Unlock()

	notify()
	h.log.Info("Agent deregistered", "agent_id", id)
	h.record(core.NewMessage(core.MessageStatusUpdate, id, core.ToAgent(ID), map[string]any{"event": "deregistered"}))
	return nil
}

// Heartbeat refreshes an agent's liveness. The first heartbeat moves a
// Registered agent to Active. Dead agents are not revived.
func (h *Hub) Heartbeat(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.agents[id]
	if !ok {
		return fmt.Errorf("heartbeat %s: %w", id, core.ErrAgentNotFound)
	}
	if !a.State.Available() {
		return fmt.Errorf("heartbeat %s in state %s: %w", id, a.State, core.ErrAgentUnavailable)
	}
	a.LastHeartbeat = h.now()
	if a.State == core.StateRegistered {
		a.State = core.StateActive
	}
	return nil
}

// SetAgentState moves an agent between Active, Busy and Idle.
func (h *Hub) SetAgentState(id string, state core.AgentState) error {
	switch state {
	case core.StateActive, core.StateBusy, core.StateIdle:
	default:
		return fmt.Errorf("state %s cannot be set directly: %w", state, core.ErrInvalidArgument)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.agents[id]
	if !ok {
		return fmt.Errorf("set state of %s: %w", id, core.ErrAgentNotFound)
	}
	if !a.State.Available() {
		return fmt.Errorf("set state of %s: %w", id, core.ErrAgentUnavailable)
	}
	a.State = state
	return nil
}

// Agent returns a snapshot of one agent.
func (h *Hub) Agent(id string) (core.AgentInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[id]
	if !ok {
		return core.AgentInfo{}, false
	}
	return cloneInfo(a), true
}

// Agents returns snapshots of the agents accepted by filter (nil accepts
// all), sorted by id.
func (h *Hub) Agents(filter func(core.AgentInfo) bool) []core.AgentInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.agentsLocked(filter)
}

func (h *Hub) agentsLocked(filter func(core.AgentInfo) bool) []core.AgentInfo {
	out := make([]core.AgentInfo, 0, len(h.agents))
	for _, id := range slices.Sorted(maps.Keys(h.agents)) {
		info := cloneInfo(h.agents[id])
		if filter == nil || filter(info) {
			out = append(out, info)
		}
	}
	return out
}

// Reachable accepts agents that currently receive role-targeted messages.
func Reachable(a core.AgentInfo) bool { return a.State.CanReceiveRoleMessages() }

// HasRole accepts agents of role r that are still reachable.
func HasRole(r core.Role) func(core.AgentInfo) bool {
	return func(a core.AgentInfo) bool { return a.Role == r && Reachable(a) }
}

// GetAgentStatus returns the per-agent role, state and last heartbeat.
func (h *Hub) GetAgentStatus() map[string]core.AgentStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]core.AgentStatus, len(h.agents))
	for id, a := range h.agents {
		out[id] = core.AgentStatus{Role: a.Role, State: a.State, LastHeartbeat: a.LastHeartbeat}
	}
	return out
}

// HealthCheck summarises hub health. The hub is degraded while dead agents
// remain registered and unhealthy once the bus is closed.
func (h *Hub) HealthCheck() core.HealthReport {
	h.mu.RLock()
	dead := []string{}
	for id, a := range h.agents {
		if a.State == core.StateDead {
			dead = append(dead, id)
		}
	}
	total := len(h.agents)
	h.mu.RUnlock()
	slices.Sort(dead)

	status := core.HealthHealthy
	switch {
	case h.bus.Closed():
		status = core.HealthUnhealthy
	case len(dead) > 0:
		status = core.HealthDegraded
	}
	return core.HealthReport{
		Status:       status,
		DeadAgents:   dead,
		TotalAgents:  total,
		MessageCount: h.bus.MessageCount(context.Background()),
		Timestamp:    h.now(),
	}
}

// GetMessageHistory returns up to limit messages, most recent last.
func (h *Hub) GetMessageHistory(ctx context.Context, limit int) ([]core.Message, error) {
	msgs, err := h.bus.History(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w: %w", core.ErrCommunication, err)
	}
	return msgs, nil
}

// SendMessage publishes a message from the hub and returns its id.
func (h *Hub) SendMessage(ctx context.Context, t core.MessageType, payload any, to core.Recipient, requiresResponse bool) (string, error) {
	msg := core.NewMessage(t, ID, to, payload)
	msg.RequiresResponse = requiresResponse
	return h.Publish(ctx, msg)
}

// Publish sends a prepared message. Direct messages to Dead, Deregistered or
// unknown agents fail with ErrAgentUnavailable.
func (h *Hub) Publish(ctx context.Context, msg core.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Recipient.Kind == core.RecipientAgent {
		if err := h.checkReachable(msg.Recipient.AgentID); err != nil {
			return "", err
		}
	}
	if err := h.bus.Publish(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (h *Hub) checkReachable(id string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[id]
	if !ok || !a.State.Available() {
		return fmt.Errorf("recipient %s: %w", id, core.ErrAgentUnavailable)
	}
	return nil
}

// record appends a bookkeeping message to the history. Failures are logged
// because the caller's operation already succeeded.
func (h *Hub) record(msg core.Message) {
	if err := h.bus.Publish(context.Background(), msg); err != nil {
		h.log.Debug("History record skipped", "type", msg.Type, "error", err.Error())
	}
}

// agentGoneLocked releases every waiter blocked on id. It returns a function
// to run after the lock is released.
func (h *Hub) agentGoneLocked(id string) func() {
	var after []func()
	for _, v := range h.votes {
		if fn := v.agentGoneLocked(h, id); fn != nil {
			after = append(after, fn)
		}
	}
	for _, a := range h.auctions {
		a.agentGoneLocked(id)
	}
	for _, g := range h.gathers {
		g.agentGoneLocked(id)
	}
	return func() {
		for _, fn := range after {
			fn()
		}
	}
}

func cloneInfo(a *core.AgentInfo) core.AgentInfo {
	c := *a
	c.Capabilities = slices.Clone(a.Capabilities)
	c.Metadata = maps.Clone(a.Metadata)
	return c
}
