package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
)

func TestLiveness_MarksDeadAndAlerts(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "s1", "s2")
	monitors := f.join(t, core.RoleMonitor, "m1")
	healers := f.join(t, core.RoleHealer, "h1")

	f.clock.Advance(10 * time.Second)
	for _, id := range []string{"s1", "m1", "h1"} {
		require.NoError(t, f.hub.Heartbeat(id))
	}
	assert.Empty(t, f.hub.CheckLiveness())

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"s2"}, f.hub.CheckLiveness())
	assert.Empty(t, f.hub.CheckLiveness(), "dead agents are reported once")

	info, _ := f.hub.Agent("s2")
	assert.Equal(t, core.StateDead, info.State)
	assert.ErrorIs(t, f.hub.Heartbeat("s2"), core.ErrAgentUnavailable)

	for _, s := range []*bus.Subscription{monitors["m1"], healers["h1"]} {
		msg, ok := s.TryReceive()
		require.True(t, ok)
		assert.Equal(t, core.MessageMonitorAlert, msg.Type)
		alert := msg.Payload.(core.Alert)
		assert.Equal(t, core.AlertAgentDead, alert.Kind)
		assert.Equal(t, "s2", alert.AgentID)
	}

	report := f.hub.HealthCheck()
	assert.Equal(t, core.HealthDegraded, report.Status)
	assert.Equal(t, []string{"s2"}, report.DeadAgents)

	_, err := f.hub.SendMessage(context.Background(), core.MessageHelpRequest, nil, core.ToAgent("s2"), false)
	assert.ErrorIs(t, err, core.ErrAgentUnavailable)

	f.bus.Close()
	assert.Equal(t, core.HealthUnhealthy, f.hub.HealthCheck().Status)
}

func TestLiveness_StartStop(t *testing.T) {
	f := newFixture(t)
	f.hub.opts.LivenessSchedule = "@every 1s"
	require.NoError(t, f.hub.Start())
	require.NoError(t, f.hub.Start())
	f.hub.Stop()
	f.hub.Stop()

	f.hub.opts.LivenessSchedule = "not a schedule"
	assert.Error(t, f.hub.Start())
}
