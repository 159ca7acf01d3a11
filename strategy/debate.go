package strategy

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/hub"
)

// Debate lets problem solvers refine positions over several rounds and then
// votes on the final positions.
//
// A round sends every debater the previous round's positions. The debate
// converges when a round returns exactly the same agent to position mapping
// as the round before. When debaters stop answering, the debate ends at the
// current round.
type Debate struct{}

// Name implements Strategy.
func (Debate) Name() core.StrategyName { return core.StrategyDebate }

// Solve implements Strategy.
func (Debate) Solve(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error) {
	sol := newSolution(p)

	debaters := env.Solvers()
	if len(debaters) == 0 {
		return nil, fmt.Errorf("no problem solvers for debate: %w", core.ErrQuorumNotMet)
	}

	var positions map[string]string
	for round := 1; round <= env.Settings.DebateRounds; round++ {
		work := core.WorkRequest{
			Kind:      core.WorkPropose,
			Problem:   *p,
			Round:     round,
			Positions: maps.Clone(positions),
		}
		res, err := env.Hub.Gather(ctx, debaters, work, env.Settings.RoundTimeout)
		if err != nil && !isContextErr(err) {
			return nil, err
		}
		next := outputs(res.Contributions)
		if len(next) == 0 {
			sol.Incomplete = true
			break
		}
		sol.Rounds = round
		converged := maps.Equal(next, positions)
		positions = next

		if err != nil || len(res.NonResponding) > 0 {
			env.log().Info("Debate cut short", "problem_id", p.ID, "round", round, "non_responding", len(res.NonResponding))
			sol.NonResponding = res.NonResponding
			sol.Incomplete = true
			break
		}
		if converged {
			break
		}
		debaters = slices.Sorted(maps.Keys(next))
	}

	if len(positions) == 0 {
		return nil, fmt.Errorf("debate produced no positions: %w", core.ErrQuorumNotMet)
	}
	sol.ResultsCount = len(positions)

	final := distinct(ordered(positions))
	if len(final) == 1 {
		sol.Result, sol.Winner = final[0], final[0]
		sol.ConsensusReached = true
		sol.AgreementPercent = 1
		return sol, nil
	}

	voters := slices.Sorted(maps.Keys(positions))
	voteCtx := map[string]any{"positions": maps.Clone(positions), "rounds": sol.Rounds}
	res, incomplete, err := vote(ctx, env, p.Description, final, voteCtx, hub.WithVoters(voters...))
	if err != nil {
		if ctx.Err() == nil {
			return nil, err
		}
		// Cancelled before anyone voted: fall back to the most held position.
		top, share := plurality(ordered(positions))
		sol.Result, sol.Winner, sol.AgreementPercent = top, top, share
		sol.Incomplete = true
		return sol, nil
	}
	applyVote(sol, res)
	sol.Incomplete = sol.Incomplete || incomplete
	return sol, nil
}
