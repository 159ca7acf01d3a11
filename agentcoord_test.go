package agentcoord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/coordinator"
	"github.com/hupe1980/agentcoord/core"
)

func newTeam(t *testing.T, dist map[core.Role]int) *AgentCoord {
	t.Helper()
	a, err := New(context.Background(), dist, func(o *coordinator.Options) {
		o.Settings.VoteTimeout = time.Second
		o.Settings.RoundTimeout = time.Second
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNew_SpawnsDefaultTeam(t *testing.T) {
	a := newTeam(t, nil)
	assert.Len(t, a.Agents(), 5)
	assert.Equal(t, 5, a.Coordinator().GetSystemStatus().TotalAgents)
}

func TestInvokeSync(t *testing.T) {
	a := newTeam(t, map[core.Role]int{core.RoleProblemSolver: 3})

	p := core.NewProblem("pick a cache", core.StrategyVoting)
	p.Options = []string{"redis", "memcached"}
	sol, err := a.InvokeSync(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p.ID, sol.ProblemID)
	assert.Contains(t, p.Options, sol.Result)
}

func TestInvoke_ReportsErrors(t *testing.T) {
	a := newTeam(t, map[core.Role]int{core.RoleProblemSolver: 1})

	_, _, _, err := a.Invoke(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	id, solCh, errCh, err := a.Invoke(context.Background(), &core.Problem{Description: "x", Strategy: "telepathy"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.ErrorIs(t, <-errCh, core.ErrStrategy)
	assert.Nil(t, <-solCh)
}

func TestNew_RejectsBadDistribution(t *testing.T) {
	_, err := New(context.Background(), map[core.Role]int{"wizard": 1})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
