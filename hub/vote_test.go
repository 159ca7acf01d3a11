package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/core"
)

func TestVote_MajorityClosesWhenAllVoted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subs := f.join(t, core.RoleProblemSolver, "a1", "a2", "a3", "a4", "a5")

	voteID, err := f.hub.RequestVote(ctx, "ship it?", []string{"approve", "reject"}, time.Minute)
	require.NoError(t, err)

	for _, s := range subs {
		msg, ok := s.TryReceive()
		require.True(t, ok)
		assert.Equal(t, core.MessageVoteRequest, msg.Type)
		assert.Equal(t, voteID, msg.Payload.(core.VoteRequest).VoteID)
	}

	for id, opt := range map[string]string{"a1": "approve", "a2": "approve", "a3": "approve", "a4": "reject", "a5": "reject"} {
		require.NoError(t, f.hub.CastVote(voteID, id, opt))
	}

	res, err := f.hub.AwaitVote(ctx, voteID)
	require.NoError(t, err)
	assert.Equal(t, core.VoteClosed, res.Status)
	assert.Equal(t, "approve", res.Winner)
	assert.Equal(t, 5, res.TotalVotes)
	assert.Equal(t, 5, res.EligibleVoters)
	assert.InDelta(t, 0.6, res.WinnerShare(), 1e-9)
	assert.Equal(t, res.TotalVotes, res.Results["approve"]+res.Results["reject"])
}

func TestVote_RecastOverwrites(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1", "a2")

	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.hub.CastVote(voteID, "a1", "x"))
	require.NoError(t, f.hub.CastVote(voteID, "a1", "y"))
	require.NoError(t, f.hub.CastVote(voteID, "a1", "y"))

	res, err := f.hub.GetVoteResults(voteID)
	require.NoError(t, err)
	assert.Equal(t, core.VoteOpen, res.Status)
	assert.Equal(t, 1, res.TotalVotes)
	assert.Equal(t, 0, res.Results["x"])
	assert.Equal(t, 1, res.Results["y"])
}

func TestVote_TieBreakIsEarliestOption(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1", "a2")

	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"left", "right"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.hub.CastVote(voteID, "a1", "right"))
	require.NoError(t, f.hub.CastVote(voteID, "a2", "left"))

	res, err := f.hub.GetVoteResults(voteID)
	require.NoError(t, err)
	assert.Equal(t, "left", res.Winner)
}

func TestVote_ClosedResultsAreStable(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1", "a2")

	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.hub.CastVote(voteID, "a1", "x"))

	require.Eventually(t, func() bool {
		r, _ := f.hub.GetVoteResults(voteID)
		return r.Status == core.VoteClosed
	}, time.Second, 5*time.Millisecond)

	first, err := f.hub.GetVoteResults(voteID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.hub.CastVote(voteID, "a2", "y"), core.ErrVoteClosed)

	second, err := f.hub.GetVoteResults(voteID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.TotalVotes)
	assert.Equal(t, "x", second.Winner)
}

func TestVote_Validation(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1", "a2")
	f.join(t, core.RoleMonitor, "m1")
	ctx := context.Background()

	_, err := f.hub.RequestVote(ctx, "p", []string{"only"}, time.Minute)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	voteID, err := f.hub.RequestVote(ctx, "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, f.hub.CastVote(voteID, "a1", "z"), core.ErrInvalidOption)
	assert.ErrorIs(t, f.hub.CastVote(voteID, "m1", "x"), core.ErrIneligibleVoter)
	assert.ErrorIs(t, f.hub.CastVote("missing", "a1", "x"), core.ErrVoteNotFound)

	_, err = f.hub.GetVoteResults("missing")
	assert.ErrorIs(t, err, core.ErrVoteNotFound)
}

func TestVote_LateRegistrantIsIneligible(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1")

	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)

	f.join(t, core.RoleProblemSolver, "late")
	assert.ErrorIs(t, f.hub.CastVote(voteID, "late", "x"), core.ErrIneligibleVoter)
}

func TestVote_NoEligibleVotersClosesImmediately(t *testing.T) {
	f := newFixture(t)
	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)

	res, err := f.hub.GetVoteResults(voteID)
	require.NoError(t, err)
	assert.Equal(t, core.VoteClosed, res.Status)
	assert.Zero(t, res.TotalVotes)
	assert.Empty(t, res.Winner)
}

func TestVote_AwaitCancellationClosesEarly(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1", "a2")

	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.hub.CastVote(voteID, "a2", "y"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := f.hub.AwaitVote(ctx, voteID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.VoteClosed, res.Status)
	assert.Equal(t, "y", res.Winner)
}

func TestVote_ExplicitVotersAreAddressedDirectly(t *testing.T) {
	f := newFixture(t)
	subs := f.join(t, core.RoleProblemSolver, "a1", "a2", "a3")

	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, time.Minute, WithVoters("a1", "a3"))
	require.NoError(t, err)

	assert.Equal(t, 1, subs["a1"].Len())
	assert.Zero(t, subs["a2"].Len())
	assert.ErrorIs(t, f.hub.CastVote(voteID, "a2", "x"), core.ErrIneligibleVoter)

	res, _ := f.hub.GetVoteResults(voteID)
	assert.Equal(t, 2, res.EligibleVoters)
}

func TestVote_DeadVoterNoLongerBlocksClosure(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1", "a2")

	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.hub.CastVote(voteID, "a1", "x"))

	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.hub.Heartbeat("a1"))
	f.clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"a2"}, f.hub.CheckLiveness())

	res, err := f.hub.GetVoteResults(voteID)
	require.NoError(t, err)
	assert.Equal(t, core.VoteClosed, res.Status)
	assert.Equal(t, 1, res.TotalVotes)
}

func TestConsensus_ThresholdAndNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, core.RoleProblemSolver, "a1", "a2", "a3", "a4", "a5")

	voteID, err := f.hub.RequestConsensus(ctx, "adopt go?", 0.66, time.Minute, WithOptions("approve", "reject"))
	require.NoError(t, err)
	for id, opt := range map[string]string{"a1": "approve", "a2": "approve", "a3": "approve", "a4": "reject", "a5": "reject"} {
		require.NoError(t, f.hub.CastVote(voteID, id, opt))
	}
	res, err := f.hub.AwaitConsensus(ctx, voteID)
	require.NoError(t, err)
	assert.False(t, res.Reached)
	assert.InDelta(t, 0.6, res.Agreement, 1e-9)
	assert.Equal(t, "approve", res.Winner)

	voteID, err = f.hub.RequestConsensus(ctx, "adopt rust?", 0.6, time.Minute)
	require.NoError(t, err)
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		require.NoError(t, f.hub.CastVote(voteID, id, "agree"))
	}
	require.NoError(t, f.hub.CastVote(voteID, "a5", "abstain"))
	res, err = f.hub.AwaitConsensus(ctx, voteID)
	require.NoError(t, err)
	assert.True(t, res.Reached)
	assert.Equal(t, []string{"agree", "disagree", "abstain"}, res.Options)

	hist, err := f.hub.GetMessageHistory(ctx, 0)
	require.NoError(t, err)
	var reached int
	for _, m := range hist {
		if m.Type == core.MessageConsensusReached && m.CorrelationID == voteID {
			reached++
		}
	}
	assert.Equal(t, 1, reached)

	_, err = f.hub.RequestConsensus(ctx, "bad", 1.5, time.Minute)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	plain, err := f.hub.RequestVote(ctx, "plain", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)
	_, err = f.hub.GetConsensusResult(plain)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestVote_CastsAreRecordedInHistory(t *testing.T) {
	f := newFixture(t)
	f.join(t, core.RoleProblemSolver, "a1")
	ctx := context.Background()

	voteID, err := f.hub.RequestVote(ctx, "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.hub.CastVote(voteID, "a1", "x"))

	hist, err := f.hub.GetMessageHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, core.MessageVoteRequest, hist[0].Type)
	assert.Equal(t, core.MessageVoteCast, hist[1].Type)
	assert.Equal(t, "a1", hist[1].Sender)
}

func TestVote_PruneClosed(t *testing.T) {
	f := newFixture(t)
	voteID, err := f.hub.RequestVote(context.Background(), "p", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.hub.pruneVotes())
	_, err = f.hub.GetVoteResults(voteID)
	assert.ErrorIs(t, err, core.ErrVoteNotFound)
}
