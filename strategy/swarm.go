package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcoord/core"
)

// Swarm fans the problem out to problem solvers in parallel and merges the
// independent answers.
type Swarm struct{}

// Name implements Strategy.
func (Swarm) Name() core.StrategyName { return core.StrategySwarm }

// Solve implements Strategy. The result is the de-duplicated union of all
// contributed items in agent id order. Agents that miss the deadline are
// listed as non-responding.
func (Swarm) Solve(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error) {
	sol := newSolution(p)

	ids := env.Solvers()
	if n := env.Settings.SwarmSize; n > 0 && n < len(ids) {
		ids = ids[:n]
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no problem solvers for swarm: %w", core.ErrQuorumNotMet)
	}

	res, err := env.Hub.Gather(ctx, ids, core.WorkRequest{Kind: core.WorkSolve, Problem: *p}, env.Settings.SwarmTimeout)
	if err != nil && !isContextErr(err) {
		return nil, err
	}

	var items, outs []string
	for _, c := range res.Contributions {
		if len(c.Items) > 0 {
			items = append(items, c.Items...)
		} else {
			items = append(items, c.Output)
		}
		outs = append(outs, strings.TrimSpace(c.Output))
	}
	merged := distinct(items)

	sol.Result = strings.Join(merged, "\n")
	sol.ResultsCount = len(res.Contributions)
	sol.NonResponding = res.NonResponding
	sol.Incomplete = err != nil || res.TimedOut || len(res.NonResponding) > 0
	if top, share := plurality(outs); top != "" {
		sol.AgreementPercent = share
		sol.ConsensusReached = len(merged) == 1
	}
	return sol, nil
}
