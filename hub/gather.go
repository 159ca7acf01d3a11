package hub

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/hupe1980/agentcoord/core"
)

// GatherResult is the outcome of a fan-out work request.
type GatherResult struct {
	RequestID string `json:"request_id"`
	// Contributions are ordered by agent id.
	Contributions []core.Contribution `json:"contributions"`
	// NonResponding lists agents that did not answer, sorted by id.
	NonResponding []string `json:"non_responding,omitempty"`
	// Unavailable lists the non-responders that died or left meanwhile.
	Unavailable []string `json:"unavailable,omitempty"`
	// TimedOut is set when the wait ended before every agent answered.
	TimedOut bool `json:"timed_out"`
}

type gather struct {
	id       string
	pending  map[string]struct{}
	answers  map[string]core.Contribution
	gone     map[string]struct{}
	done     chan struct{}
	finished bool
}

func (g *gather) finishIfComplete() {
	if g.finished || len(g.pending) > 0 {
		return
	}
	g.finished = true
	close(g.done)
}

func (g *gather) agentGoneLocked(id string) {
	if _, ok := g.pending[id]; !ok {
		return
	}
	delete(g.pending, id)
	g.gone[id] = struct{}{}
	g.finishIfComplete()
}

// Gather sends work to each agent and waits until all of them responded via
// Respond, the timeout elapses or ctx ends. Agents that die meanwhile are
// dropped from the wait set. On ctx cancellation the partial result is
// returned together with ctx.Err().
func (h *Hub) Gather(ctx context.Context, agentIDs []string, work core.WorkRequest, timeout time.Duration) (GatherResult, error) {
	if timeout <= 0 {
		return GatherResult{}, fmt.Errorf("gather timeout %v: %w", timeout, core.ErrInvalidArgument)
	}
	g := &gather{
		id:      core.NewID(),
		pending: make(map[string]struct{}),
		answers: make(map[string]core.Contribution),
		gone:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	work.RequestID = g.id
	work.Deadline = h.now().Add(timeout)

	h.mu.Lock()
	targets := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		if a, ok := h.agents[id]; ok && a.State.Available() {
			g.pending[id] = struct{}{}
			targets = append(targets, id)
		} else {
			g.gone[id] = struct{}{}
		}
	}
	h.gathers[g.id] = g
	g.finishIfComplete()
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.gathers, g.id)
		h.mu.Unlock()
	}()

	p := pool.New().WithErrors().WithContext(ctx)
	for _, id := range targets {
		p.Go(func(ctx context.Context) error {
			msg := core.NewMessage(core.MessageTaskRequest, ID, core.ToAgent(id), work)
			msg.RequiresResponse = true
			msg.CorrelationID = g.id
			if err := h.bus.Publish(ctx, msg); err != nil {
				return fmt.Errorf("send work to %s: %w", id, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		if errors.Is(err, core.ErrCommunication) {
			return GatherResult{}, err
		}
		if ctxErr := ctx.Err(); ctxErr == nil {
			return GatherResult{}, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-g.done:
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	h.mu.Lock()
	res := g.resultLocked()
	h.mu.Unlock()

	h.log.Debug("Gather finished", "request_id", g.id, "responded", len(res.Contributions),
		"non_responding", len(res.NonResponding), "timed_out", res.TimedOut)
	return res, waitErr
}

func (g *gather) resultLocked() GatherResult {
	res := GatherResult{RequestID: g.id}
	for _, id := range slices.Sorted(maps.Keys(g.answers)) {
		res.Contributions = append(res.Contributions, g.answers[id])
	}
	missing := make([]string, 0, len(g.pending)+len(g.gone))
	for id := range g.pending {
		missing = append(missing, id)
	}
	for id := range g.gone {
		missing = append(missing, id)
		res.Unavailable = append(res.Unavailable, id)
	}
	slices.Sort(missing)
	slices.Sort(res.Unavailable)
	res.NonResponding = missing
	res.TimedOut = len(g.pending) > 0
	return res
}

// Respond delivers an agent's contribution to an open Gather or Dispatch.
func (h *Hub) Respond(requestID, agentID string, c core.Contribution) error {
	c.AgentID = agentID

	h.mu.Lock()
	g, ok := h.gathers[requestID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("respond to %s: %w", requestID, core.ErrTaskNotFound)
	}
	if _, waiting := g.pending[agentID]; !waiting {
		_, answered := g.answers[agentID]
		h.mu.Unlock()
		if answered {
			return nil
		}
		return fmt.Errorf("agent %s is not part of %s: %w", agentID, requestID, core.ErrInvalidArgument)
	}
	delete(g.pending, agentID)
	g.answers[agentID] = c
	g.finishIfComplete()
	h.mu.Unlock()

	msg := core.NewMessage(core.MessageTaskResponse, agentID, core.ToAgent(ID), c)
	msg.CorrelationID = requestID
	h.record(msg)
	return nil
}

// Dispatch sends work to a single agent and waits for its contribution. It
// fails with ErrAgentUnavailable when the agent is or becomes unavailable and
// with ErrTimeout when it does not answer in time.
func (h *Hub) Dispatch(ctx context.Context, agentID string, work core.WorkRequest, timeout time.Duration) (core.Contribution, error) {
	if err := h.checkReachable(agentID); err != nil {
		return core.Contribution{}, err
	}
	res, err := h.Gather(ctx, []string{agentID}, work, timeout)
	if len(res.Contributions) == 1 {
		return res.Contributions[0], nil
	}
	if len(res.Unavailable) > 0 {
		return core.Contribution{}, fmt.Errorf("dispatch to %s: %w", agentID, core.ErrAgentUnavailable)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return core.Contribution{}, fmt.Errorf("dispatch to %s: %w: %w", agentID, core.ErrTimeout, err)
		}
		return core.Contribution{}, err
	}
	return core.Contribution{}, fmt.Errorf("dispatch to %s: %w", agentID, core.ErrTimeout)
}
