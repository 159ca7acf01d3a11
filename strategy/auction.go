package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/hub"
)

// Context keys read by the auction strategy.
const (
	ContextKeyComplexity           = "complexity"
	ContextKeyPriority             = "priority"
	ContextKeyRequiredCapabilities = "required_capabilities"
)

// Auction announces the problem as a task, allocates it to the lowest
// bidder and asks the winner to solve it.
type Auction struct{}

// Name implements Strategy.
func (Auction) Name() core.StrategyName { return core.StrategyAuction }

// Solve implements Strategy. Without bids it fails with ErrAllocation. A
// winner that dies before answering fails the strategy; a winner that runs
// out of time yields an incomplete solution.
func (Auction) Solve(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error) {
	sol := newSolution(p)

	task := taskFor(p)
	alloc, err := env.Hub.AllocateTask(ctx, task, core.AllocateAuction, hub.WithBidTimeout(env.Settings.BidTimeout))
	if err != nil {
		return nil, err
	}
	sol.Winner = alloc.AgentID
	sol.Allocation = &alloc

	c, err := env.Hub.Dispatch(ctx, alloc.AgentID, core.WorkRequest{Kind: core.WorkSolve, Problem: *p}, env.Settings.WorkTimeout)
	switch {
	case err == nil:
		sol.Result = c.Output
		sol.ResultsCount = 1
		sol.ConsensusReached = true
		sol.AgreementPercent = 1
	case errors.Is(err, core.ErrAgentUnavailable):
		return nil, fmt.Errorf("auction winner %s: %w", alloc.AgentID, err)
	case errors.Is(err, core.ErrTimeout) || isContextErr(err):
		env.log().Warn("Auction winner did not answer in time", "problem_id", p.ID, "agent_id", alloc.AgentID)
		sol.Incomplete = true
		sol.NonResponding = []string{alloc.AgentID}
	default:
		return nil, err
	}
	return sol, nil
}

func taskFor(p *core.Problem) core.Task {
	t := core.Task{
		ID:          core.NewID(),
		Description: p.Description,
		Complexity:  1,
	}
	switch v := p.Context[ContextKeyComplexity].(type) {
	case float64:
		t.Complexity = v
	case int:
		t.Complexity = float64(v)
	}
	switch v := p.Context[ContextKeyPriority].(type) {
	case int:
		t.Priority = v
	case float64:
		t.Priority = int(v)
	}
	switch v := p.Context[ContextKeyRequiredCapabilities].(type) {
	case []string:
		t.RequiredCapabilities = v
	case []any:
		for _, c := range v {
			if s, ok := c.(string); ok {
				t.RequiredCapabilities = append(t.RequiredCapabilities, s)
			}
		}
	}
	return t
}
