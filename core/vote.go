package core

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// VoteStatus tells whether a vote still accepts ballots.
type VoteStatus string

const (
	VoteOpen   VoteStatus = "open"
	VoteClosed VoteStatus = "closed"
)

// DefaultConsensusOptions are used by consensus requests that do not name
// their own options.
var DefaultConsensusOptions = []string{"agree", "disagree", "abstain"}

// DefaultConsensusThreshold is the agreement ratio used when none is given.
const DefaultConsensusThreshold = 0.66

// VoteResults is a tally snapshot. Results contains every option, including
// those that received no ballots.
type VoteResults struct {
	VoteID         string         `json:"vote_id"`
	Proposal       string         `json:"proposal"`
	Options        []string       `json:"options"`
	Results        map[string]int `json:"results"`
	TotalVotes     int            `json:"total_votes"`
	Winner         string         `json:"winner"`
	Status         VoteStatus     `json:"status"`
	EligibleVoters int            `json:"eligible_voters"`
	Deadline       time.Time      `json:"deadline"`
	ClosedAt       time.Time      `json:"closed_at,omitzero"`
}

// WinnerShare returns the winner's share of the cast ballots, or 0 when no
// ballot was cast.
func (r VoteResults) WinnerShare() float64 {
	if r.TotalVotes == 0 {
		return 0
	}
	return float64(r.Results[r.Winner]) / float64(r.TotalVotes)
}

// Clone returns a deep copy safe for independent mutation.
func (r VoteResults) Clone() VoteResults {
	c := r
	c.Options = slices.Clone(r.Options)
	c.Results = maps.Clone(r.Results)
	return c
}

// ConsensusResult interprets a closed vote against a required agreement
// ratio.
type ConsensusResult struct {
	VoteResults
	RequiredAgreement float64 `json:"required_agreement"`
	Agreement         float64 `json:"agreement"`
	Reached           bool    `json:"reached"`
}

// NewConsensusResult derives the pass/fail view of a tally. Consensus is
// reached iff the leading option's share of cast ballots is at least the
// required agreement.
func NewConsensusResult(r VoteResults, required float64) ConsensusResult {
	share := r.WinnerShare()
	return ConsensusResult{
		VoteResults:       r,
		RequiredAgreement: required,
		Agreement:         share,
		Reached:           r.TotalVotes > 0 && share >= required,
	}
}

// ValidateOptions checks that a ballot has at least two distinct, non-empty
// options.
func ValidateOptions(options []string) error {
	if len(options) < 2 {
		return fmt.Errorf("vote needs at least 2 options, got %d: %w", len(options), ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if o == "" {
			return fmt.Errorf("empty vote option: %w", ErrInvalidArgument)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("duplicate vote option %q: %w", o, ErrInvalidArgument)
		}
		seen[o] = struct{}{}
	}
	return nil
}

// ValidateAgreement checks a consensus ratio lies in (0, 1].
func ValidateAgreement(ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("required agreement %v outside (0,1]: %w", ratio, ErrInvalidArgument)
	}
	return nil
}

// Tally counts ballots (agent id → option) over the ordered options.
//
// The winner is the option with the highest count. Ties are broken by the
// earliest position in options, so the same ballots always produce the same
// winner. With zero ballots the winner is empty.
func Tally(options []string, ballots map[string]string) (map[string]int, int, string) {
	results := make(map[string]int, len(options))
	for _, o := range options {
		results[o] = 0
	}
	total := 0
	for _, choice := range ballots {
		if _, ok := results[choice]; !ok {
			continue
		}
		results[choice]++
		total++
	}
	if total == 0 {
		return results, 0, ""
	}
	winner, best := "", -1
	for _, o := range options {
		if results[o] > best {
			winner, best = o, results[o]
		}
	}
	return results, total, winner
}
