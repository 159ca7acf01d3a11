package hub

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/agentcoord/core"
)

// VoteOptions tune a vote request.
type VoteOptions struct {
	// Role selects the eligible voters (default problem_solver).
	Role core.Role
	// Voters restricts eligibility to explicit agents; they are addressed
	// directly instead of by role.
	Voters []string
	// Options overrides the ballot options of a consensus request.
	Options []string
	// Context is attached to the vote request for the voters.
	Context map[string]any
}

// VoteOption configures a vote request.
type VoteOption func(o *VoteOptions)

// WithRole targets the vote at a role.
func WithRole(r core.Role) VoteOption {
	return func(o *VoteOptions) { o.Role = r }
}

// WithVoters restricts the vote to the given agents.
func WithVoters(ids ...string) VoteOption {
	return func(o *VoteOptions) { o.Voters = slices.Clone(ids) }
}

// WithOptions sets the ballot options of a consensus request.
func WithOptions(options ...string) VoteOption {
	return func(o *VoteOptions) { o.Options = slices.Clone(options) }
}

// WithVoteContext attaches context for the voters.
func WithVoteContext(ctx map[string]any) VoteOption {
	return func(o *VoteOptions) { o.Context = maps.Clone(ctx) }
}

type vote struct {
	id       string
	proposal string
	options  []string
	eligible map[string]struct{}
	ballots  map[string]string
	deadline time.Time
	status   core.VoteStatus
	closedAt time.Time
	final    core.VoteResults
	done     chan struct{}
	timer    *time.Timer

	// agreement > 0 marks a consensus request.
	agreement float64
}

func (v *vote) snapshot() core.VoteResults {
	if v.status == core.VoteClosed {
		return v.final.Clone()
	}
	results, total, winner := core.Tally(v.options, v.ballots)
	return core.VoteResults{
		VoteID:         v.id,
		Proposal:       v.proposal,
		Options:        slices.Clone(v.options),
		Results:        results,
		TotalVotes:     total,
		Winner:         winner,
		Status:         v.status,
		EligibleVoters: len(v.eligible),
		Deadline:       v.deadline,
	}
}

// complete reports whether every eligible agent that is still available has
// voted.
func (v *vote) complete(h *Hub) bool {
	for id := range v.eligible {
		if _, voted := v.ballots[id]; voted {
			continue
		}
		if a, ok := h.agents[id]; ok && a.State.Available() {
			return false
		}
	}
	return true
}

func (v *vote) agentGoneLocked(h *Hub, _ string) func() {
	if v.status == core.VoteClosed || !v.complete(h) {
		return nil
	}
	return h.closeVoteLocked(v)
}

// RequestVote opens a vote and sends the request to every eligible agent.
// Eligible voters are the agents of the target role that are Active or Idle
// at open time. The vote closes at the deadline or once every eligible agent
// has voted.
func (h *Hub) RequestVote(ctx context.Context, proposal string, options []string, timeout time.Duration, optFns ...VoteOption) (string, error) {
	vo := VoteOptions{Role: core.RoleProblemSolver}
	for _, fn := range optFns {
		fn(&vo)
	}
	return h.openVote(ctx, proposal, options, timeout, 0, vo)
}

// RequestConsensus opens a vote interpreted against requiredAgreement. The
// options default to agree, disagree and abstain.
func (h *Hub) RequestConsensus(ctx context.Context, topic string, requiredAgreement float64, timeout time.Duration, optFns ...VoteOption) (string, error) {
	if err := core.ValidateAgreement(requiredAgreement); err != nil {
		return "", err
	}
	vo := VoteOptions{Role: core.RoleProblemSolver}
	for _, fn := range optFns {
		fn(&vo)
	}
	options := vo.Options
	if len(options) == 0 {
		options = slices.Clone(core.DefaultConsensusOptions)
	}
	return h.openVote(ctx, topic, options, timeout, requiredAgreement, vo)
}

func (h *Hub) openVote(ctx context.Context, proposal string, options []string, timeout time.Duration, agreement float64, vo VoteOptions) (string, error) {
	if err := core.ValidateOptions(options); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = h.opts.DefaultVoteTimeout
	}

	v := &vote{
		id:        core.NewID(),
		proposal:  proposal,
		options:   slices.Clone(options),
		eligible:  make(map[string]struct{}),
		ballots:   make(map[string]string),
		deadline:  h.now().Add(timeout),
		status:    core.VoteOpen,
		done:      make(chan struct{}),
		agreement: agreement,
	}

	h.mu.Lock()
	if len(vo.Voters) > 0 {
		for _, id := range vo.Voters {
			if a, ok := h.agents[id]; ok && a.State.CanReceiveRoleMessages() {
				v.eligible[id] = struct{}{}
			}
		}
	} else {
		for id, a := range h.agents {
			if a.Role == vo.Role && a.State.CanReceiveRoleMessages() {
				v.eligible[id] = struct{}{}
			}
		}
	}
	h.votes[v.id] = v
	voters := slices.Sorted(maps.Keys(v.eligible))
	h.mu.Unlock()

	req := core.VoteRequest{
		VoteID:   v.id,
		Proposal: proposal,
		Options:  slices.Clone(options),
		Deadline: v.deadline,
		Context:  vo.Context,
	}
	var err error
	if len(vo.Voters) > 0 {
		for _, id := range voters {
			if err = h.bus.Publish(ctx, h.voteRequest(req, core.ToAgent(id))); err != nil {
				break
			}
		}
	} else {
		err = h.bus.Publish(ctx, h.voteRequest(req, core.ToRole(vo.Role)))
	}
	if err != nil {
		h.mu.Lock()
		delete(h.votes, v.id)
		h.mu.Unlock()
		return "", fmt.Errorf("request vote: %w", err)
	}

	h.log.Debug("Vote opened", "vote_id", v.id, "eligible_voters", len(voters), "timeout", timeout)

	h.mu.Lock()
	var notify func()
	if v.status == core.VoteOpen {
		if len(v.eligible) == 0 {
			notify = h.closeVoteLocked(v)
		} else {
			v.timer = time.AfterFunc(timeout, func() { h.closeVote(v.id) })
		}
	}
	h.mu.Unlock()
	if notify != nil {
		notify()
	}
	return v.id, nil
}

func (h *Hub) voteRequest(req core.VoteRequest, to core.Recipient) core.Message {
	msg := core.NewMessage(core.MessageVoteRequest, ID, to, req)
	msg.RequiresResponse = true
	msg.CorrelationID = req.VoteID
	return msg
}

// CastVote records an agent's ballot. A later cast from the same agent
// replaces the earlier one while the vote is open.
func (h *Hub) CastVote(voteID, agentID, option string) error {
	h.mu.Lock()
	v, ok := h.votes[voteID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("cast on %s: %w", voteID, core.ErrVoteNotFound)
	}
	if v.status == core.VoteClosed {
		h.mu.Unlock()
		return fmt.Errorf("cast on %s: %w", voteID, core.ErrVoteClosed)
	}
	if !slices.Contains(v.options, option) {
		h.mu.Unlock()
		return fmt.Errorf("option %q on %s: %w", option, voteID, core.ErrInvalidOption)
	}
	if _, ok := v.eligible[agentID]; !ok {
		h.mu.Unlock()
		return fmt.Errorf("agent %s on %s: %w", agentID, voteID, core.ErrIneligibleVoter)
	}
	v.ballots[agentID] = option
	var notify func()
	if v.complete(h) {
		notify = h.closeVoteLocked(v)
	}
	h.mu.Unlock()

	cast := core.NewMessage(core.MessageVoteCast, agentID, core.ToAgent(ID), core.VoteCast{VoteID: voteID, AgentID: agentID, Option: option})
	cast.CorrelationID = voteID
	h.record(cast)
	if notify != nil {
		notify()
	}
	return nil
}

func (h *Hub) closeVote(id string) {
	h.mu.Lock()
	v, ok := h.votes[id]
	var notify func()
	if ok && v.status == core.VoteOpen {
		notify = h.closeVoteLocked(v)
	}
	h.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// closeVoteLocked freezes the tally and wakes waiters. The returned function
// publishes closure messages and must run without the lock held.
func (h *Hub) closeVoteLocked(v *vote) func() {
	if v.timer != nil {
		v.timer.Stop()
	}
	v.final = v.snapshot()
	v.status = core.VoteClosed
	v.closedAt = h.now()
	v.final.Status = core.VoteClosed
	v.final.ClosedAt = v.closedAt
	close(v.done)

	final := v.final.Clone()
	agreement := v.agreement
	return func() {
		if cl, ok := h.log.(interface {
			LogVoteClosed(string, string, int, int)
		}); ok {
			cl.LogVoteClosed(final.VoteID, final.Winner, final.TotalVotes, final.EligibleVoters)
		}
		if agreement <= 0 {
			return
		}
		res := core.NewConsensusResult(final, agreement)
		if res.Reached {
			msg := core.NewMessage(core.MessageConsensusReached, ID, core.Broadcast(), res)
			msg.CorrelationID = final.VoteID
			h.record(msg)
		}
	}
}

// GetVoteResults returns the current tally. Once the vote is closed the
// result no longer changes.
func (h *Hub) GetVoteResults(voteID string) (core.VoteResults, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.votes[voteID]
	if !ok {
		return core.VoteResults{}, fmt.Errorf("results of %s: %w", voteID, core.ErrVoteNotFound)
	}
	return v.snapshot(), nil
}

// AwaitVote blocks until the vote closes. If ctx ends first the vote is
// closed early and the partial tally is returned together with ctx.Err().
func (h *Hub) AwaitVote(ctx context.Context, voteID string) (core.VoteResults, error) {
	h.mu.RLock()
	v, ok := h.votes[voteID]
	h.mu.RUnlock()
	if !ok {
		return core.VoteResults{}, fmt.Errorf("await %s: %w", voteID, core.ErrVoteNotFound)
	}

	select {
	case <-v.done:
		return h.GetVoteResults(voteID)
	case <-ctx.Done():
		h.closeVote(voteID)
		res, err := h.GetVoteResults(voteID)
		if err != nil {
			return res, err
		}
		return res, ctx.Err()
	}
}

// GetConsensusResult interprets the current tally of a consensus request.
func (h *Hub) GetConsensusResult(voteID string) (core.ConsensusResult, error) {
	h.mu.RLock()
	v, ok := h.votes[voteID]
	var (
		res       core.VoteResults
		agreement float64
	)
	if ok {
		res = v.snapshot()
		agreement = v.agreement
	}
	h.mu.RUnlock()
	if !ok {
		return core.ConsensusResult{}, fmt.Errorf("consensus %s: %w", voteID, core.ErrVoteNotFound)
	}
	if agreement <= 0 {
		return core.ConsensusResult{}, fmt.Errorf("vote %s is not a consensus request: %w", voteID, core.ErrInvalidArgument)
	}
	return core.NewConsensusResult(res, agreement), nil
}

// AwaitConsensus blocks until the consensus vote closes; see AwaitVote.
func (h *Hub) AwaitConsensus(ctx context.Context, voteID string) (core.ConsensusResult, error) {
	_, waitErr := h.AwaitVote(ctx, voteID)
	res, err := h.GetConsensusResult(voteID)
	if err != nil {
		return res, err
	}
	return res, waitErr
}

// pruneVotes drops closed votes older than the retention period.
func (h *Hub) pruneVotes() int {
	cutoff := h.now().Add(-h.opts.VoteRetention)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, v := range h.votes {
		if v.status == core.VoteClosed && v.closedAt.Before(cutoff) {
			delete(h.votes, id)
			n++
		}
	}
	return n
}
