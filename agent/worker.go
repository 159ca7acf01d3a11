package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

// Hub is the part of the communication hub a worker talks to.
type Hub interface {
	Heartbeat(id string) error
	SetAgentState(id string, state core.AgentState) error
	CastVote(voteID, agentID, option string) error
	SubmitBid(taskID, agentID string, cost float64) error
	Respond(requestID, agentID string, c core.Contribution) error
	Publish(ctx context.Context, msg core.Message) (string, error)
}

// Subscriber hands out bus subscriptions.
type Subscriber interface {
	Subscribe(agentID string, role core.Role) (*bus.Subscription, error)
}

// Healer repairs the system in response to an alert. It is only consulted by
// healer workers.
type Healer interface {
	Heal(ctx context.Context, alert core.Alert) error
}

// HealerFunc adapts a function to Healer.
type HealerFunc func(ctx context.Context, alert core.Alert) error

// Heal implements Healer.
func (f HealerFunc) Heal(ctx context.Context, alert core.Alert) error { return f(ctx, alert) }

// Options configures a Worker.
type Options struct {
	Capabilities      []string
	Behavior          Behavior
	HeartbeatInterval time.Duration
	Healer            Healer
	// MaxNotes bounds the notes a note-taker keeps; the oldest are dropped.
	MaxNotes int
	Logger   logging.Logger
}

// Stats counts what a worker has handled.
type Stats struct {
	Votes         int `json:"votes"`
	Bids          int `json:"bids"`
	Contributions int `json:"contributions"`
	Assignments   int `json:"assignments"`
	Alerts        int `json:"alerts"`
	Heals         int `json:"heals"`
}

// Worker is a running agent. It is created by New and driven by Start/Stop.
type Worker struct {
	id   string
	role core.Role
	hub  Hub
	bus  Subscriber
	opts Options
	log  logging.Logger

	mu      sync.Mutex
	state   core.AgentState
	notes   []core.Note
	stats   Stats
	running bool
	cancel  context.CancelFunc
	sub     *bus.Subscription
	wg      *conc.WaitGroup
}

// DefaultHeartbeatInterval is used when Options.HeartbeatInterval is not
// positive.
const DefaultHeartbeatInterval = 2 * time.Second

// New creates a worker for an agent already registered with the hub.
func New(id string, role core.Role, hub Hub, subscriber Subscriber, optFns ...func(o *Options)) *Worker {
	opts := Options{
		Behavior:          RuleBehavior{},
		HeartbeatInterval: DefaultHeartbeatInterval,
		MaxNotes:          1000,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if len(opts.Capabilities) == 0 {
		opts.Capabilities = core.DefaultCapabilities(role)
	}
	return &Worker{
		id:    id,
		role:  role,
		hub:   hub,
		bus:   subscriber,
		opts:  opts,
		log:   logging.Agent(logging.Component(opts.Logger, "agent"), id),
		state: core.StateRegistered,
	}
}

// ID returns the agent id.
func (w *Worker) ID() string { return w.id }

// Role returns the agent role.
func (w *Worker) Role() core.Role { return w.role }

// Start subscribes to the bus, sends the first heartbeat and launches the
// receive and heartbeat loops. The loops end when ctx is cancelled or Stop
// is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("agent %s is already running: %w", w.id, core.ErrInvalidArgument)
	}
	sub, err := w.bus.Subscribe(w.id, w.role)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.id, err)
	}
	if err := w.hub.Heartbeat(w.id); err != nil {
		sub.Close()
		return fmt.Errorf("start %s: %w", w.id, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.sub = sub
	w.running = true
	w.state = core.StateActive
	w.wg = conc.NewWaitGroup()
	w.wg.Go(func() { w.receiveLoop(runCtx, sub) })
	w.wg.Go(func() { w.heartbeatLoop(runCtx) })

	w.log.Debug("Agent started", "role", w.role)
	return nil
}

// Stop cancels the loops, closes the subscription and waits for the loops
// to return. Stopping a stopped worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, sub, wg := w.cancel, w.sub, w.wg
	w.mu.Unlock()

	cancel()
	sub.Close()
	wg.Wait()
	w.log.Debug("Agent stopped")
}

// Running reports whether the loops are active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// State returns the worker's own view of its lifecycle state.
func (w *Worker) State() core.AgentState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Notes returns a copy of the notes recorded by a note-taker.
func (w *Worker) Notes() []core.Note {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.notes)
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) self() Self {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Self{
		ID:           w.id,
		Role:         w.role,
		Capabilities: slices.Clone(w.opts.Capabilities),
		Load:         w.stats.Contributions,
	}
}

func (w *Worker) receiveLoop(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case msg := <-sub.C():
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.hub.Heartbeat(w.id)
			if err == nil {
				continue
			}
			if errors.Is(err, core.ErrAgentUnavailable) || errors.Is(err, core.ErrAgentNotFound) {
				w.log.Warn("Agent no longer in registry, stopping", "error", err.Error())
				w.markGone()
				return
			}
			w.log.Warn("Heartbeat failed", "error", err.Error())
		}
	}
}

// markGone stops the receive loop after the hub declared the agent dead or
// removed it.
func (w *Worker) markGone() {
	w.mu.Lock()
	w.state = core.StateDead
	cancel := w.cancel
	w.mu.Unlock()
	cancel()
}

func (w *Worker) handle(ctx context.Context, msg core.Message) {
	switch msg.Type {
	case core.MessageVoteRequest:
		if req, ok := msg.Payload.(core.VoteRequest); ok {
			w.handleVote(ctx, req)
		}
	case core.MessageTaskRequest:
		switch p := msg.Payload.(type) {
		case core.TaskAnnouncement:
			w.handleAnnouncement(ctx, p)
		case core.WorkRequest:
			w.handleWork(ctx, p)
		}
	case core.MessageTaskResponse:
		if a, ok := msg.Payload.(core.Allocation); ok {
			w.bump(func(s *Stats) { s.Assignments++ })
			w.log.Info("Task assigned", "task_id", a.TaskID, "cost", a.Cost)
		}
	case core.MessageMonitorAlert:
		if alert, ok := msg.Payload.(core.Alert); ok {
			w.handleAlert(ctx, msg, alert)
		}
	case core.MessageHelpRequest:
		if w.role == core.RoleHealer {
			w.handleHelp(ctx, msg)
		}
	case core.MessageNoteTaking, core.MessageKnowledgeShare, core.MessageConsensusReached:
		if w.role == core.RoleNoteTaker {
			w.record(msg)
		}
	default:
		w.log.Debug("Message ignored", "type", msg.Type, "sender", msg.Sender)
	}
}

func (w *Worker) handleVote(ctx context.Context, req core.VoteRequest) {
	voteCtx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		voteCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}
	option, err := w.opts.Behavior.Vote(voteCtx, w.self(), req)
	if err != nil {
		w.log.Warn("Abstaining from vote", "vote_id", req.VoteID, "error", err.Error())
		return
	}
	if err := w.hub.CastVote(req.VoteID, w.id, option); err != nil {
		w.log.Debug("Vote rejected", "vote_id", req.VoteID, "error", err.Error())
		return
	}
	w.bump(func(s *Stats) { s.Votes++ })
}

func (w *Worker) handleAnnouncement(ctx context.Context, ann core.TaskAnnouncement) {
	bidCtx := ctx
	if !ann.Deadline.IsZero() {
		var cancel context.CancelFunc
		bidCtx, cancel = context.WithDeadline(ctx, ann.Deadline)
		defer cancel()
	}
	cost, err := w.opts.Behavior.Bid(bidCtx, w.self(), ann.Task)
	if err != nil {
		w.log.Warn("Not bidding", "task_id", ann.Task.ID, "error", err.Error())
		return
	}
	if err := w.hub.SubmitBid(ann.Task.ID, w.id, cost); err != nil {
		w.log.Debug("Bid rejected", "task_id", ann.Task.ID, "error", err.Error())
		return
	}
	w.bump(func(s *Stats) { s.Bids++ })
}

// handleWork marks the agent Busy while the behavior works and Idle before
// the answer is sent, so the agent can be addressed again as soon as the
// requester sees the contribution.
func (w *Worker) handleWork(ctx context.Context, work core.WorkRequest) {
	w.setState(core.StateBusy)

	workCtx := ctx
	if !work.Deadline.IsZero() {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithDeadline(ctx, work.Deadline)
		defer cancel()
	}
	c, err := w.opts.Behavior.Solve(workCtx, w.self(), work)

	w.setState(core.StateIdle)
	if err != nil {
		w.log.Warn("Work failed", "request_id", work.RequestID, "error", err.Error())
		return
	}
	c.AgentID = w.id
	if err := w.hub.Respond(work.RequestID, w.id, c); err != nil {
		w.log.Debug("Contribution rejected", "request_id", work.RequestID, "error", err.Error())
		return
	}
	w.bump(func(s *Stats) { s.Contributions++ })
}

func (w *Worker) handleAlert(ctx context.Context, msg core.Message, alert core.Alert) {
	w.bump(func(s *Stats) { s.Alerts++ })
	switch w.role {
	case core.RoleMonitor:
		w.log.Warn("Alert received", "kind", alert.Kind, "subject", alert.AgentID, "detail", alert.Detail)
	case core.RoleHealer:
		if w.opts.Healer != nil {
			if err := w.opts.Healer.Heal(ctx, alert); err != nil {
				w.log.Error("Healing failed", "kind", alert.Kind, "subject", alert.AgentID, "error", err.Error())
				return
			}
		}
		w.bump(func(s *Stats) { s.Heals++ })
		heal := core.NewMessage(core.MessageSelfHeal, w.id, core.ToRole(core.RoleMonitor), core.Alert{
			Kind:    core.AlertHealRequested,
			AgentID: alert.AgentID,
			Detail:  fmt.Sprintf("handled %s from %s", alert.Kind, msg.Sender),
		})
		if _, err := w.hub.Publish(ctx, heal); err != nil {
			w.log.Warn("Self-heal notice not sent", "error", err.Error())
		}
	case core.RoleNoteTaker:
		w.record(msg)
	}
}

// handleHelp diagnoses a help request and answers the sender with a
// task_response carrying a HelpResponse.
func (w *Worker) handleHelp(ctx context.Context, msg core.Message) {
	if msg.Sender == "" {
		w.log.Debug("Help request without sender", "message_id", msg.ID)
		return
	}
	alert := core.Alert{Kind: core.AlertHelpRequested, AgentID: msg.Sender, Detail: helpDetail(msg.Payload)}
	resp := core.HelpResponse{
		Healer:      w.id,
		RequestID:   msg.ID,
		Diagnosis:   fmt.Sprintf("%s asked for help: %s", msg.Sender, alert.Detail),
		ActionTaken: "auto-recovery initiated",
		Healed:      true,
	}
	if w.opts.Healer != nil {
		if err := w.opts.Healer.Heal(ctx, alert); err != nil {
			w.log.Error("Healing failed", "kind", alert.Kind, "subject", msg.Sender, "error", err.Error())
			resp.ActionTaken = err.Error()
			resp.Healed = false
		}
	}
	if resp.Healed {
		w.bump(func(s *Stats) { s.Heals++ })
	}
	reply := core.NewMessage(core.MessageTaskResponse, w.id, core.ToAgent(msg.Sender), resp)
	if _, err := w.hub.Publish(ctx, reply); err != nil {
		w.log.Warn("Help response not sent", "to", msg.Sender, "error", err.Error())
	}
}

func helpDetail(payload any) string {
	switch p := payload.(type) {
	case nil:
		return "unspecified problem"
	case string:
		return p
	case core.Note:
		return p.Content
	case core.Alert:
		return p.Detail
	default:
		return fmt.Sprintf("%v", p)
	}
}

func (w *Worker) record(msg core.Message) {
	note := core.Note{Author: msg.Sender}
	switch p := msg.Payload.(type) {
	case core.Note:
		note = p
	case string:
		note.Content = p
	case core.Alert:
		note.Content = fmt.Sprintf("alert %s: %s %s", p.Kind, p.AgentID, p.Detail)
	case core.ConsensusResult:
		note.Content = fmt.Sprintf("consensus on %q: %s", p.Proposal, p.Winner)
	default:
		note.Content = fmt.Sprintf("%s: %v", msg.Type, p)
	}

	w.mu.Lock()
	w.notes = append(w.notes, note)
	if w.opts.MaxNotes > 0 && len(w.notes) > w.opts.MaxNotes {
		w.notes = slices.Delete(w.notes, 0, len(w.notes)-w.opts.MaxNotes)
	}
	w.mu.Unlock()
}

func (w *Worker) setState(state core.AgentState) {
	if err := w.hub.SetAgentState(w.id, state); err != nil {
		w.log.Debug("State change rejected", "state", state, "error", err.Error())
		return
	}
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Worker) bump(fn func(s *Stats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}
