package strategy

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/hub"
)

// ContextKeyRequiredAgreement overrides the consensus threshold for one
// problem.
const ContextKeyRequiredAgreement = "required_agreement"

// Consensus runs up to ConsensusMaxRounds votes until the leading option's
// share reaches the threshold. Later rounds see the previous tally in the
// vote context.
type Consensus struct{}

// Name implements Strategy.
func (Consensus) Name() core.StrategyName { return core.StrategyConsensus }

// Solve implements Strategy. The leading option of the last round with
// ballots is returned whether or not consensus was reached.
func (Consensus) Solve(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error) {
	sol := newSolution(p)

	threshold := env.Settings.ConsensusThreshold
	if v, ok := p.Context[ContextKeyRequiredAgreement].(float64); ok {
		if err := core.ValidateAgreement(v); err != nil {
			return nil, err
		}
		threshold = v
	}
	options := distinct(p.Options)
	if len(options) < 2 {
		options = core.DefaultConsensusOptions
	}

	var last *core.ConsensusResult
	for round := 1; round <= env.Settings.ConsensusMaxRounds; round++ {
		if last != nil && ctx.Err() != nil {
			sol.Incomplete = true
			break
		}
		voteCtx := maps.Clone(p.Context)
		if voteCtx == nil {
			voteCtx = map[string]any{}
		}
		voteCtx["round"] = round
		if last != nil {
			voteCtx["previous_results"] = maps.Clone(last.Results)
			voteCtx["previous_leader"] = last.Winner
		}

		id, err := env.Hub.RequestConsensus(ctx, p.Description, threshold, env.Settings.VoteTimeout,
			hub.WithOptions(options...), hub.WithVoteContext(voteCtx))
		if err != nil {
			if last != nil && isContextErr(err) {
				sol.Incomplete = true
				break
			}
			return nil, fmt.Errorf("open consensus round %d: %w", round, err)
		}
		res, err := env.Hub.AwaitConsensus(ctx, id)
		if err != nil && !isContextErr(err) {
			return nil, err
		}
		sol.Rounds = round
		if res.TotalVotes > 0 {
			last = &res
		}
		if err != nil {
			sol.Incomplete = true
			break
		}
		if res.Reached {
			break
		}
	}

	if last == nil {
		return nil, fmt.Errorf("no ballots in %d consensus rounds: %w", sol.Rounds, core.ErrQuorumNotMet)
	}
	sol.Result = last.Winner
	sol.Winner = last.Winner
	sol.AgreementPercent = last.Agreement
	sol.ConsensusReached = last.Reached
	sol.VoteResults = &last.VoteResults
	return sol, nil
}
