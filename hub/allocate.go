package hub

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/hupe1980/agentcoord/core"
)

type auction struct {
	task     core.Task
	invited  map[string]struct{}
	bids     map[string]float64
	gone     map[string]struct{}
	closed   bool
	done     chan struct{}
	doneOnce bool
}

func (a *auction) finishIfComplete() {
	if a.closed || a.doneOnce {
		return
	}
	for id := range a.invited {
		_, bid := a.bids[id]
		_, gone := a.gone[id]
		if !bid && !gone {
			return
		}
	}
	a.doneOnce = true
	close(a.done)
}

func (a *auction) agentGoneLocked(id string) {
	if _, ok := a.invited[id]; !ok {
		return
	}
	if a.gone == nil {
		a.gone = make(map[string]struct{})
	}
	a.gone[id] = struct{}{}
	a.finishIfComplete()
}

// AllocateOptions tune a single allocation.
type AllocateOptions struct {
	// BidTimeout overrides the hub default for auctions.
	BidTimeout time.Duration
}

// AllocateOption configures AllocateTask.
type AllocateOption func(o *AllocateOptions)

// WithBidTimeout bounds how long the auction collects bids.
func WithBidTimeout(d time.Duration) AllocateOption {
	return func(o *AllocateOptions) { o.BidTimeout = d }
}

// candidates returns reachable agents able to take task, sorted by id. With
// no required capabilities the problem solvers are candidates.
func (h *Hub) candidatesLocked(task core.Task) []core.AgentInfo {
	return h.agentsLocked(func(a core.AgentInfo) bool {
		if !Reachable(a) {
			return false
		}
		if len(task.RequiredCapabilities) == 0 {
			return a.Role == core.RoleProblemSolver
		}
		return a.HasCapabilities(task.RequiredCapabilities)
	})
}

// AllocateTask assigns task to exactly one agent.
//
// With AllocateAuction the task is announced to every capable agent and the
// lowest bid received before the bid deadline wins, ties broken by ascending
// agent id. With AllocateRoundRobin the assignee rotates over the capable
// agents in id order. Both fail with ErrAllocation when nobody can take the
// task.
func (h *Hub) AllocateTask(ctx context.Context, task core.Task, method core.AllocationMethod, optFns ...AllocateOption) (core.Allocation, error) {
	ao := AllocateOptions{BidTimeout: h.opts.BidTimeout}
	for _, fn := range optFns {
		fn(&ao)
	}
	if task.ID == "" {
		task.ID = core.NewID()
	}

	var (
		alloc core.Allocation
		err   error
	)
	switch method {
	case core.AllocateAuction:
		alloc, err = h.auction(ctx, task, ao.BidTimeout)
	case core.AllocateRoundRobin:
		alloc, err = h.roundRobin(task)
	default:
		err = fmt.Errorf("allocation method %q: %w", method, core.ErrInvalidArgument)
	}

	if cl, ok := h.log.(interface {
		LogAllocation(string, string, string, int, error)
	}); ok {
		cl.LogAllocation(task.ID, string(method), alloc.AgentID, len(alloc.Bids), err)
	}
	if err != nil {
		return core.Allocation{}, err
	}

	assign := core.NewMessage(core.MessageTaskResponse, ID, core.ToAgent(alloc.AgentID), alloc)
	assign.CorrelationID = task.ID
	h.record(assign)
	return alloc, nil
}

func (h *Hub) reserveTaskLocked(id string) error {
	if _, dup := h.allocations[id]; dup {
		return fmt.Errorf("task %s: %w", id, core.ErrDuplicateID)
	}
	if _, dup := h.auctions[id]; dup {
		return fmt.Errorf("task %s: %w", id, core.ErrDuplicateID)
	}
	return nil
}

func (h *Hub) roundRobin(task core.Task) (core.Allocation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reserveTaskLocked(task.ID); err != nil {
		return core.Allocation{}, err
	}
	cands := h.candidatesLocked(task)
	if len(cands) == 0 {
		return core.Allocation{}, fmt.Errorf("task %s: no eligible agent: %w", task.ID, core.ErrAllocation)
	}
	chosen := cands[h.rrCursor%len(cands)]
	h.rrCursor++

	alloc := core.Allocation{TaskID: task.ID, AgentID: chosen.ID, Method: core.AllocateRoundRobin}
	h.allocations[task.ID] = alloc
	return alloc, nil
}

func (h *Hub) auction(ctx context.Context, task core.Task, bidTimeout time.Duration) (core.Allocation, error) {
	if bidTimeout <= 0 {
		bidTimeout = h.opts.BidTimeout
	}

	h.mu.Lock()
	if err := h.reserveTaskLocked(task.ID); err != nil {
		h.mu.Unlock()
		return core.Allocation{}, err
	}
	cands := h.candidatesLocked(task)
	if len(cands) == 0 {
		h.mu.Unlock()
		return core.Allocation{}, fmt.Errorf("task %s: no eligible bidder: %w", task.ID, core.ErrAllocation)
	}
	a := &auction{
		task:    task,
		invited: make(map[string]struct{}, len(cands)),
		bids:    make(map[string]float64),
		done:    make(chan struct{}),
	}
	for _, c := range cands {
		a.invited[c.ID] = struct{}{}
	}
	h.auctions[task.ID] = a
	h.mu.Unlock()

	deadline := h.now().Add(bidTimeout)
	ann := core.TaskAnnouncement{Task: task, Deadline: deadline}
	for _, c := range cands {
		msg := core.NewMessage(core.MessageTaskRequest, ID, core.ToAgent(c.ID), ann)
		msg.RequiresResponse = true
		msg.CorrelationID = task.ID
		if err := h.bus.Publish(ctx, msg); err != nil {
			h.mu.Lock()
			delete(h.auctions, task.ID)
			h.mu.Unlock()
			return core.Allocation{}, fmt.Errorf("announce task %s: %w", task.ID, err)
		}
	}

	timer := time.NewTimer(bidTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
	case <-ctx.Done():
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	a.closed = true
	delete(h.auctions, task.ID)

	bids := maps.Clone(a.bids)
	win, ok := core.LowestBid(bids)
	if !ok {
		if err := ctx.Err(); err != nil {
			return core.Allocation{}, fmt.Errorf("task %s: %w: %w", task.ID, core.ErrAllocation, err)
		}
		return core.Allocation{}, fmt.Errorf("task %s: no bids received: %w", task.ID, core.ErrAllocation)
	}
	alloc := core.Allocation{
		TaskID:  task.ID,
		AgentID: win.AgentID,
		Cost:    win.Cost,
		Method:  core.AllocateAuction,
		Bids:    bids,
	}
	h.allocations[task.ID] = alloc
	return alloc, nil
}

// SubmitBid records an agent's cost estimate for an open auction. A later
// bid from the same agent replaces the earlier one.
func (h *Hub) SubmitBid(taskID, agentID string, cost float64) error {
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return fmt.Errorf("bid %v: %w", cost, core.ErrInvalidArgument)
	}

	h.mu.Lock()
	a, ok := h.auctions[taskID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("bid on %s: %w", taskID, core.ErrTaskNotFound)
	}
	if a.closed {
		h.mu.Unlock()
		return fmt.Errorf("bid on %s: bidding closed: %w", taskID, core.ErrAllocation)
	}
	if _, invited := a.invited[agentID]; !invited {
		h.mu.Unlock()
		return fmt.Errorf("agent %s was not invited to bid on %s: %w", agentID, taskID, core.ErrInvalidArgument)
	}
	a.bids[agentID] = cost
	a.finishIfComplete()
	h.mu.Unlock()

	msg := core.NewMessage(core.MessageTaskResponse, agentID, core.ToAgent(ID), core.Bid{AgentID: agentID, Cost: cost})
	msg.CorrelationID = taskID
	h.record(msg)
	return nil
}

// Allocation returns the recorded assignment of a task.
func (h *Hub) Allocation(taskID string) (core.Allocation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.allocations[taskID]
	if !ok {
		return core.Allocation{}, fmt.Errorf("allocation of %s: %w", taskID, core.ErrTaskNotFound)
	}
	a.Bids = maps.Clone(a.Bids)
	return a, nil
}

// Allocations lists recorded assignments ordered by task id.
func (h *Hub) Allocations() []core.Allocation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.Allocation, 0, len(h.allocations))
	for _, id := range slices.Sorted(maps.Keys(h.allocations)) {
		out = append(out, h.allocations[id])
	}
	return out
}
