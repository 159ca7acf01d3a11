package coordinator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/agent"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/engine"
	"github.com/hupe1980/agentcoord/knowledge"
	"github.com/hupe1980/agentcoord/strategy"
)

func approveAll() agent.FuncBehavior {
	return agent.FuncBehavior{
		VoteFunc: func(context.Context, agent.Self, core.VoteRequest) (string, error) {
			return "approve", nil
		},
	}
}

func newCoordinator(t *testing.T, optFns ...func(o *Options)) *Coordinator {
	t.Helper()
	c, err := New(context.Background(), append([]func(o *Options){func(o *Options) {
		o.Settings = strategy.Settings{
			VoteTimeout:  time.Second,
			RoundTimeout: time.Second,
			SwarmTimeout: time.Second,
			BidTimeout:   time.Second,
			WorkTimeout:  time.Second,
		}
	}}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestSpawnAgents_DefaultsToProblemSolvers(t *testing.T) {
	c := newCoordinator(t)

	ids, err := c.SpawnAgents(context.Background(), 3, nil)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.True(t, strings.HasPrefix(id, "problem_solver_"))
		assert.Len(t, strings.TrimPrefix(id, "problem_solver_"), 8)
		info, ok := c.Hub().Agent(id)
		require.True(t, ok)
		assert.Equal(t, core.StateActive, info.State)
	}
}

func TestSpawnAgents_Distribution(t *testing.T) {
	c := newCoordinator(t)

	ids, err := c.SpawnAgents(context.Background(), 0, DefaultDistribution)
	require.NoError(t, err)
	assert.Len(t, ids, 5)

	status := c.GetSystemStatus()
	assert.Equal(t, 5, status.TotalAgents)
	assert.Equal(t, map[core.Role]int{
		core.RoleProblemSolver: 2,
		core.RoleMonitor:       1,
		core.RoleNoteTaker:     1,
		core.RoleHealer:        1,
	}, status.AgentsByRole)
	assert.Equal(t, core.HealthHealthy, status.Health.Status)
	assert.Zero(t, status.ActiveProblems)
}

func TestSpawnAgents_Validation(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	_, err := c.SpawnAgents(ctx, 0, nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = c.SpawnAgents(ctx, 4, map[core.Role]int{core.RoleMonitor: 1})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = c.SpawnAgents(ctx, 0, map[core.Role]int{"wizard": 1})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = c.SpawnAgents(ctx, 0, map[core.Role]int{core.RoleMonitor: -1})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestSolveProblem_Voting(t *testing.T) {
	c := newCoordinator(t, func(o *Options) { o.Behavior = approveAll() })
	_, err := c.SpawnAgents(context.Background(), 3, nil)
	require.NoError(t, err)

	sol, err := c.SolveProblem(context.Background(), "ship the release?", core.StrategyVoting, nil,
		WithOptions("approve", "reject"), WithProblemID("release"))
	require.NoError(t, err)
	assert.Equal(t, "release", sol.ProblemID)
	assert.Equal(t, "approve", sol.Result)
	assert.True(t, sol.ConsensusReached)
	assert.Equal(t, 1.0, sol.AgreementPercent)

	records := c.Problems()
	require.Len(t, records, 1)
	assert.Equal(t, engine.ProblemSolved, records[0].Status)
	rec, ok := c.Problem("release")
	require.True(t, ok)
	assert.Equal(t, "ship the release?", rec.Problem.Description)
}

func TestSolveProblem_UnknownStrategy(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.SolveProblem(context.Background(), "x", "telepathy", nil)
	assert.ErrorIs(t, err, core.ErrStrategy)
}

func TestSolve_InjectsKnowledge(t *testing.T) {
	store := knowledge.NewMemoryStore()
	require.NoError(t, store.Add(context.Background(),
		knowledge.Document{ID: "k1", Content: "postgres handles our message history"},
		knowledge.Document{ID: "k2", Content: "unrelated gardening tips"},
	))

	seen := make(chan map[string]any, 1)
	callbacks := engine.NewCallbackManager()
	callbacks.RegisterCallback(engine.NewFunctionCallback(engine.CallbackBeforeSolve, func(_ context.Context, cc *engine.CallbackContext) error {
		seen <- cc.Problem.Context
		return nil
	}))

	c := newCoordinator(t, func(o *Options) {
		o.Knowledge = store
		o.Callbacks = callbacks
		o.Behavior = approveAll()
	})
	_, err := c.SpawnAgents(context.Background(), 1, nil)
	require.NoError(t, err)

	_, err = c.SolveProblem(context.Background(), "where is message history stored", core.StrategyVoting,
		map[string]any{"team": "infra"}, WithOptions("approve", "reject"))
	require.NoError(t, err)

	pctx := <-seen
	assert.Equal(t, "infra", pctx["team"])
	snippets, ok := pctx[core.ContextKeyKnowledge].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"postgres handles our message history"}, snippets)
}

func TestShareKnowledge_ReachesNoteTakers(t *testing.T) {
	c := newCoordinator(t, func(o *Options) { o.Knowledge = knowledge.NewMemoryStore() })
	ids, err := c.SpawnAgents(context.Background(), 0, map[core.Role]int{core.RoleNoteTaker: 1})
	require.NoError(t, err)

	require.NoError(t, c.ShareKnowledge(context.Background(), knowledge.Document{ID: "d1", Content: "use nats for events"}))

	w, ok := c.Worker(ids[0])
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(w.Notes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "use nats for events", w.Notes()[0].Content)

	bare := newCoordinator(t)
	assert.ErrorIs(t, bare.ShareKnowledge(context.Background(), knowledge.Document{Content: "x"}), core.ErrInvalidArgument)
}

func TestStopAgent(t *testing.T) {
	c := newCoordinator(t)
	ids, err := c.SpawnAgents(context.Background(), 2, nil)
	require.NoError(t, err)

	require.NoError(t, c.StopAgent(ids[0]))
	_, ok := c.Hub().Agent(ids[0])
	assert.False(t, ok)
	assert.Equal(t, 1, c.GetSystemStatus().TotalAgents)
	assert.ErrorIs(t, c.StopAgent(ids[0]), core.ErrAgentNotFound)
}

func TestShutdown(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.SpawnAgents(context.Background(), 0, DefaultDistribution)
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(context.Background()))
	status := c.GetSystemStatus()
	assert.Zero(t, status.TotalAgents)
	assert.Equal(t, core.HealthUnhealthy, status.Health.Status)
	assert.True(t, c.Bus().Closed())

	_, err = c.SpawnAgents(context.Background(), 1, nil)
	assert.ErrorIs(t, err, core.ErrCommunication)
	_, err = c.SolveProblem(context.Background(), "late", core.StrategyVoting, nil)
	assert.ErrorIs(t, err, core.ErrCommunication)
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestCancelProblem_ConsensusKeepsLastLeader(t *testing.T) {
	var ballots atomic.Int32
	secondRound := make(chan struct{})
	var once sync.Once
	c := newCoordinator(t, func(o *Options) {
		o.Settings.VoteTimeout = 5 * time.Second
		o.Behavior = agent.FuncBehavior{
			VoteFunc: func(ctx context.Context, _ agent.Self, req core.VoteRequest) (string, error) {
				if req.Context["round"] == 1 {
					if ballots.Add(1) <= 2 {
						return "agree", nil
					}
					return "disagree", nil
				}
				once.Do(func() { close(secondRound) })
				<-ctx.Done()
				return "", ctx.Err()
			},
		}
	})
	_, err := c.SpawnAgents(context.Background(), 3, nil)
	require.NoError(t, err)

	type outcome struct {
		sol *core.Solution
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sol, err := c.SolveProblem(context.Background(), "adopt trunk based development", core.StrategyConsensus,
			map[string]any{strategy.ContextKeyRequiredAgreement: 0.9}, WithProblemID("cancel-me"))
		done <- outcome{sol, err}
	}()

	select {
	case <-secondRound:
	case <-time.After(3 * time.Second):
		t.Fatal("second consensus round never started")
	}
	require.NoError(t, c.CancelProblem("cancel-me"))

	var out outcome
	select {
	case out = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("solve did not return after cancellation")
	}
	require.NoError(t, out.err)
	require.NotNil(t, out.sol)
	assert.True(t, out.sol.Incomplete)
	assert.False(t, out.sol.ConsensusReached)
	assert.Equal(t, "agree", out.sol.Result)
	assert.Equal(t, 2, out.sol.Rounds)
	require.NotNil(t, out.sol.VoteResults)
	assert.Equal(t, 3, out.sol.VoteResults.TotalVotes)

	rec, ok := c.Problem("cancel-me")
	require.True(t, ok)
	assert.Equal(t, engine.ProblemCancelled, rec.Status)
}
