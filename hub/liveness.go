package hub

import (
	"context"
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/agentcoord/core"
)

// CheckLiveness marks every agent whose last heartbeat is older than
// HeartbeatTimeout as Dead, releases waiters blocked on it and notifies the
// monitor and healer roles. It returns the newly dead agent ids.
func (h *Hub) CheckLiveness() []string {
	now := h.now()

	h.mu.Lock()
	var dead []string
	var after []func()
	for id, a := range h.agents {
		if !a.State.Available() {
			continue
		}
		if now.Sub(a.LastHeartbeat) > h.opts.HeartbeatTimeout {
			a.State = core.StateDead
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		after = append(after, h.agentGoneLocked(id))
	}
	h.mu.Unlock()

	for _, fn := range after {
		fn()
	}
	slices.Sort(dead)

	for _, id := range dead {
		h.log.Warn("Agent missed heartbeats", "agent_id", id)
		alert := core.Alert{Kind: core.AlertAgentDead, AgentID: id, Detail: "missed heartbeats"}
		for _, role := range []core.Role{core.RoleMonitor, core.RoleHealer} {
			msg := core.NewMessage(core.MessageMonitorAlert, ID, core.ToRole(role), alert)
			if err := h.bus.Publish(context.Background(), msg); err != nil {
				h.log.Debug("Alert not delivered", "agent_id", id, "role", role, "error", err.Error())
			}
		}
	}
	return dead
}

// Start schedules CheckLiveness on the cron spec derived from the options.
func (h *Hub) Start() error {
	h.cronMu.Lock()
	defer h.cronMu.Unlock()

	if h.cron != nil {
		return nil
	}
	spec := h.opts.LivenessSchedule
	if spec == "" {
		spec = "@every " + h.opts.HeartbeatInterval.String()
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, h.sweep); err != nil {
		return fmt.Errorf("schedule liveness check %q: %w", spec, err)
	}
	c.Start()
	h.cron = c
	h.log.Info("Liveness check scheduled", "schedule", spec)
	return nil
}

// Stop halts the liveness schedule and waits for a running check.
func (h *Hub) Stop() {
	h.cronMu.Lock()
	c := h.cron
	h.cron = nil
	h.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
}

func (h *Hub) sweep() {
	h.CheckLiveness()
	if n := h.pruneVotes(); n > 0 {
		h.log.Debug("Pruned closed votes", "count", n)
	}
}
