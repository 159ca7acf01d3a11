package strategy

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/hub"
)

// Voting puts the problem to a vote among problem solvers. The options come
// from Problem.Options; with fewer than two, a proposal round collects
// candidate answers first.
type Voting struct{}

// Name implements Strategy.
func (Voting) Name() core.StrategyName { return core.StrategyVoting }

// Solve implements Strategy. The winner is the plurality option with ties
// going to the earliest option; ConsensusReached means a strict majority.
func (Voting) Solve(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error) {
	sol := newSolution(p)

	options := distinct(p.Options)
	if len(options) < 2 {
		proposals, incomplete, err := propose(ctx, env, p)
		if err != nil {
			return nil, err
		}
		sol.Incomplete = incomplete
		options = distinct(append(options, proposals...))
	}
	switch len(options) {
	case 0:
		return nil, fmt.Errorf("no candidate answers for %q: %w", p.Description, core.ErrQuorumNotMet)
	case 1:
		sol.Result, sol.Winner = options[0], options[0]
		sol.ConsensusReached = true
		sol.AgreementPercent = 1
		return sol, nil
	}

	res, incomplete, err := vote(ctx, env, p.Description, options, p.Context)
	if err != nil {
		return nil, err
	}
	applyVote(sol, res)
	sol.Incomplete = sol.Incomplete || incomplete
	return sol, nil
}

// propose asks every solver for an answer and returns the distinct answers
// in agent id order.
func propose(ctx context.Context, env Env, p *core.Problem) ([]string, bool, error) {
	ids := env.Solvers()
	if len(ids) == 0 {
		return nil, false, fmt.Errorf("no problem solvers available: %w", core.ErrQuorumNotMet)
	}
	res, err := env.Hub.Gather(ctx, ids, core.WorkRequest{Kind: core.WorkSolve, Problem: *p}, env.Settings.RoundTimeout)
	if err != nil && !isContextErr(err) {
		return nil, false, err
	}
	return distinct(ordered(outputs(res.Contributions))), err != nil || res.TimedOut, nil
}

// vote opens a vote among problem solvers and waits for it to close. The
// bool result is set when the vote ended before every eligible agent voted.
func vote(ctx context.Context, env Env, proposal string, options []string, voteCtx map[string]any, optFns ...hub.VoteOption) (core.VoteResults, bool, error) {
	optFns = append(optFns, hub.WithVoteContext(maps.Clone(voteCtx)))
	id, err := env.Hub.RequestVote(ctx, proposal, options, env.Settings.VoteTimeout, optFns...)
	if err != nil {
		return core.VoteResults{}, false, fmt.Errorf("open vote: %w", err)
	}
	res, err := env.Hub.AwaitVote(ctx, id)
	if err != nil && !isContextErr(err) {
		return core.VoteResults{}, false, err
	}
	if res.TotalVotes == 0 {
		return res, false, fmt.Errorf("vote %s closed without ballots: %w", id, core.ErrQuorumNotMet)
	}
	return res, err != nil || res.TotalVotes < res.EligibleVoters, nil
}

func applyVote(sol *core.Solution, res core.VoteResults) {
	sol.Result = res.Winner
	sol.Winner = res.Winner
	sol.AgreementPercent = res.WinnerShare()
	sol.ConsensusReached = res.Results[res.Winner]*2 > res.TotalVotes
	sol.VoteResults = &res
}
