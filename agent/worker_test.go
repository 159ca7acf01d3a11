package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/hub"
	"github.com/hupe1980/agentcoord/internal/testutil"
)

type fixture struct {
	hub   *hub.Hub
	bus   *bus.Bus
	clock *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Time{})
	b := bus.New()
	h := hub.New(b, func(o *hub.Options) {
		o.Now = clock.Now
		o.HeartbeatTimeout = 15 * time.Second
	})
	t.Cleanup(b.Close)
	return &fixture{hub: h, bus: b, clock: clock}
}

// spawn registers and starts one worker per id.
func (f *fixture) spawn(t *testing.T, role core.Role, behavior Behavior, ids ...string) map[string]*Worker {
	t.Helper()
	workers := make(map[string]*Worker, len(ids))
	for _, id := range ids {
		require.NoError(t, f.hub.RegisterAgent(id, role))
		w := New(id, role, f.hub, f.bus, func(o *Options) {
			o.Behavior = behavior
			o.HeartbeatInterval = time.Hour
		})
		require.NoError(t, w.Start(context.Background()))
		t.Cleanup(w.Stop)
		workers[id] = w
	}
	return workers
}

// mockBehavior records calls through testify's mock package.
type mockBehavior struct {
	mock.Mock
}

func (m *mockBehavior) Vote(ctx context.Context, self Self, req core.VoteRequest) (string, error) {
	args := m.Called(self.ID, req.Proposal)
	return args.String(0), args.Error(1)
}

func (m *mockBehavior) Bid(ctx context.Context, self Self, task core.Task) (float64, error) {
	args := m.Called(self.ID, task.ID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockBehavior) Solve(ctx context.Context, self Self, work core.WorkRequest) (core.Contribution, error) {
	args := m.Called(self.ID, work.Kind)
	return args.Get(0).(core.Contribution), args.Error(1)
}

func TestWorker_StartActivatesAndStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.RegisterAgent("w1", core.RoleProblemSolver))
	w := New("w1", core.RoleProblemSolver, f.hub, f.bus)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.Running())
	assert.Equal(t, core.StateActive, w.State())
	info, _ := f.hub.Agent("w1")
	assert.Equal(t, core.StateActive, info.State)

	assert.ErrorIs(t, w.Start(context.Background()), core.ErrInvalidArgument)

	w.Stop()
	w.Stop()
	assert.False(t, w.Running())
}

func TestWorker_StartFailsForUnknownAgent(t *testing.T) {
	f := newFixture(t)
	w := New("ghost", core.RoleProblemSolver, f.hub, f.bus)
	assert.ErrorIs(t, w.Start(context.Background()), core.ErrAgentNotFound)

	// The subscription was released, so the id can subscribe again.
	s, err := f.bus.Subscribe("ghost", core.RoleProblemSolver)
	require.NoError(t, err)
	s.Close()
}

func TestWorker_VotesThroughHub(t *testing.T) {
	f := newFixture(t)
	b := &mockBehavior{}
	b.On("Vote", "a1", "deploy").Return("approve", nil)
	b.On("Vote", "a2", "deploy").Return("approve", nil)
	b.On("Vote", "a3", "deploy").Return("reject", nil)
	workers := f.spawn(t, core.RoleProblemSolver, b, "a1", "a2", "a3")

	ctx := context.Background()
	voteID, err := f.hub.RequestVote(ctx, "deploy", []string{"approve", "reject"}, 5*time.Second)
	require.NoError(t, err)

	res, err := f.hub.AwaitVote(ctx, voteID)
	require.NoError(t, err)
	assert.Equal(t, "approve", res.Winner)
	assert.Equal(t, 3, res.TotalVotes)
	b.AssertExpectations(t)

	for _, w := range workers {
		require.Eventually(t, func() bool { return w.Stats().Votes == 1 }, time.Second, 5*time.Millisecond)
	}
}

func TestWorker_BidsAndLearnsAssignment(t *testing.T) {
	f := newFixture(t)
	costs := map[string]float64{"a1": 4, "a2": 2}
	behavior := FuncBehavior{BidFunc: func(_ context.Context, self Self, _ core.Task) (float64, error) {
		return costs[self.ID], nil
	}}
	workers := f.spawn(t, core.RoleProblemSolver, behavior, "a1", "a2")

	alloc, err := f.hub.AllocateTask(context.Background(), core.Task{ID: "t1", Description: "index"}, core.AllocateAuction, hub.WithBidTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "a2", alloc.AgentID)
	assert.Len(t, alloc.Bids, 2)

	require.Eventually(t, func() bool { return workers["a2"].Stats().Assignments == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, workers["a1"].Stats().Assignments)
}

func TestWorker_AnswersWorkAndReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	var busySeen atomic.Bool
	h := f.hub
	behavior := FuncBehavior{SolveFunc: func(_ context.Context, self Self, work core.WorkRequest) (core.Contribution, error) {
		info, _ := h.Agent(self.ID)
		busySeen.Store(info.State == core.StateBusy)
		return core.Contribution{Output: self.ID + ":" + work.Problem.Description}, nil
	}}
	workers := f.spawn(t, core.RoleProblemSolver, behavior, "a1", "a2")

	res, err := f.hub.Gather(context.Background(), []string{"a1", "a2"}, core.WorkRequest{
		Kind:    core.WorkSolve,
		Problem: core.Problem{Description: "p"},
	}, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, res.Contributions, 2)
	assert.Equal(t, "a1:p", res.Contributions[0].Output)
	assert.Equal(t, "a1", res.Contributions[0].AgentID)
	assert.Empty(t, res.NonResponding)
	assert.True(t, busySeen.Load())

	for id, w := range workers {
		assert.Equal(t, core.StateIdle, w.State())
		info, _ := f.hub.Agent(id)
		assert.Equal(t, core.StateIdle, info.State)
		require.Eventually(t, func() bool { return w.Stats().Contributions == 1 }, time.Second, 5*time.Millisecond)
	}
}

func TestWorker_HealerAndNoteTaker(t *testing.T) {
	f := newFixture(t)
	f.spawn(t, core.RoleProblemSolver, RuleBehavior{}, "s1")
	notes := f.spawn(t, core.RoleNoteTaker, RuleBehavior{}, "n1")["n1"]

	healed := make(chan core.Alert, 1)
	require.NoError(t, f.hub.RegisterAgent("h1", core.RoleHealer))
	healer := New("h1", core.RoleHealer, f.hub, f.bus, func(o *Options) {
		o.HeartbeatInterval = time.Hour
		o.Healer = HealerFunc(func(_ context.Context, a core.Alert) error {
			healed <- a
			return nil
		})
	})
	require.NoError(t, healer.Start(context.Background()))
	t.Cleanup(healer.Stop)

	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.hub.Heartbeat("h1"))
	require.NoError(t, f.hub.Heartbeat("n1"))
	f.clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"s1"}, f.hub.CheckLiveness())

	select {
	case a := <-healed:
		assert.Equal(t, core.AlertAgentDead, a.Kind)
		assert.Equal(t, "s1", a.AgentID)
	case <-time.After(time.Second):
		t.Fatal("healer was not called")
	}
	require.Eventually(t, func() bool { return healer.Stats().Heals == 1 }, time.Second, 5*time.Millisecond)

	_, err := f.hub.SendMessage(context.Background(), core.MessageNoteTaking, "remember the milk", core.ToRole(core.RoleNoteTaker), false)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(notes.Notes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "remember the milk", notes.Notes()[0].Content)
	assert.Equal(t, hub.ID, notes.Notes()[0].Author)
}

func TestWorker_HealerAnswersHelpRequests(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.RegisterAgent("solver_1", core.RoleProblemSolver))
	sub, err := f.bus.Subscribe("solver_1", core.RoleProblemSolver)
	require.NoError(t, err)

	var hookCalls atomic.Int32
	require.NoError(t, f.hub.RegisterAgent("h1", core.RoleHealer))
	healer := New("h1", core.RoleHealer, f.hub, f.bus, func(o *Options) {
		o.HeartbeatInterval = time.Hour
		o.Healer = HealerFunc(func(_ context.Context, a core.Alert) error {
			assert.Equal(t, core.AlertHelpRequested, a.Kind)
			assert.Equal(t, "solver_1", a.AgentID)
			hookCalls.Add(1)
			return nil
		})
	})
	require.NoError(t, healer.Start(context.Background()))
	t.Cleanup(healer.Stop)

	req := core.NewMessage(core.MessageHelpRequest, "solver_1", core.ToRole(core.RoleHealer), "stuck on a deadlock")
	_, err = f.hub.Publish(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var reply core.Message
	for {
		reply, err = sub.Receive(ctx)
		require.NoError(t, err)
		if reply.Type == core.MessageTaskResponse {
			break
		}
	}
	assert.Equal(t, "h1", reply.Sender)
	resp, ok := reply.Payload.(core.HelpResponse)
	require.True(t, ok)
	assert.True(t, resp.Healed)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.Contains(t, resp.Diagnosis, "stuck on a deadlock")
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, 1, healer.Stats().Heals)
}

func TestWorker_FailedHealIsReported(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.RegisterAgent("solver_1", core.RoleProblemSolver))
	sub, err := f.bus.Subscribe("solver_1", core.RoleProblemSolver)
	require.NoError(t, err)

	require.NoError(t, f.hub.RegisterAgent("h1", core.RoleHealer))
	healer := New("h1", core.RoleHealer, f.hub, f.bus, func(o *Options) {
		o.HeartbeatInterval = time.Hour
		o.Healer = HealerFunc(func(context.Context, core.Alert) error { return assert.AnError })
	})
	require.NoError(t, healer.Start(context.Background()))
	t.Cleanup(healer.Stop)

	_, err = f.hub.Publish(context.Background(), core.NewMessage(core.MessageHelpRequest, "solver_1", core.ToRole(core.RoleHealer), nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		msg, err := sub.Receive(ctx)
		require.NoError(t, err)
		if resp, ok := msg.Payload.(core.HelpResponse); ok {
			assert.False(t, resp.Healed)
			break
		}
	}
	assert.Zero(t, healer.Stats().Heals)
}

func TestWorker_NonPositiveHeartbeatIntervalUsesDefault(t *testing.T) {
	f := newFixture(t)
	for i, interval := range []time.Duration{0, -time.Second} {
		id := fmt.Sprintf("w%d", i)
		require.NoError(t, f.hub.RegisterAgent(id, core.RoleProblemSolver))
		w := New(id, core.RoleProblemSolver, f.hub, f.bus, func(o *Options) { o.HeartbeatInterval = interval })
		assert.Equal(t, DefaultHeartbeatInterval, w.opts.HeartbeatInterval)

		require.NoError(t, w.Start(context.Background()))
		assert.True(t, w.Running())
		w.Stop()
	}
}

func TestWorker_StopsWhenDeclaredDead(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.RegisterAgent("a1", core.RoleProblemSolver))
	w := New("a1", core.RoleProblemSolver, f.hub, f.bus, func(o *Options) {
		o.HeartbeatInterval = 10 * time.Millisecond
	})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	require.NoError(t, f.hub.DeregisterAgent("a1"))
	require.Eventually(t, func() bool { return w.State() == core.StateDead }, time.Second, 5*time.Millisecond)
}
