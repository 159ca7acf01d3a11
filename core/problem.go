package core

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// StrategyName identifies a decision algorithm.
type StrategyName string

const (
	StrategyVoting       StrategyName = "voting"
	StrategyConsensus    StrategyName = "consensus"
	StrategyAuction      StrategyName = "auction"
	StrategySwarm        StrategyName = "swarm"
	StrategyDebate       StrategyName = "debate"
	StrategyHierarchical StrategyName = "hierarchical"
)

// Strategies lists every built-in strategy.
var Strategies = []StrategyName{
	StrategyVoting, StrategyConsensus, StrategyAuction,
	StrategySwarm, StrategyDebate, StrategyHierarchical,
}

// ParseStrategy converts a case-insensitive name. An unknown name fails with
// ErrStrategy.
func ParseStrategy(s string) (StrategyName, error) {
	n := StrategyName(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Strategies {
		if n == known {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q: %w", s, ErrStrategy)
}

// ContextKeyKnowledge holds ranked knowledge snippets in Problem.Context.
const ContextKeyKnowledge = "knowledge"

// Problem is a unit of decision work resolved by a strategy.
type Problem struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Strategy    StrategyName   `json:"strategy"`
	Context     map[string]any `json:"context,omitempty"`
	// Options are candidate answers for voting-style strategies.
	Options []string `json:"options,omitempty"`
	// SubProblems are the covering decomposition used by the hierarchical
	// strategy.
	SubProblems []*Problem `json:"sub_problems,omitempty"`
}

// NewProblem creates a problem with a fresh id.
func NewProblem(description string, strategy StrategyName) *Problem {
	return &Problem{
		ID:          NewID(),
		Description: description,
		Strategy:    strategy,
		Context:     map[string]any{},
	}
}

// Validate checks the problem can be dispatched. Sub-problems are checked
// recursively; an empty sub-problem is a malformed decomposition.
func (p *Problem) Validate() error {
	if p == nil {
		return fmt.Errorf("nil problem: %w", ErrInvalidArgument)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("problem %s has no description: %w", p.ID, ErrInvalidArgument)
	}
	for i, sp := range p.SubProblems {
		if sp == nil || strings.TrimSpace(sp.Description) == "" {
			return fmt.Errorf("sub-problem %d of %s is empty: %w", i, p.ID, ErrStrategy)
		}
		if err := sp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy with an independent context map and sub-problem slice.
func (p *Problem) Clone() *Problem {
	c := *p
	c.Context = maps.Clone(p.Context)
	if c.Context == nil {
		c.Context = map[string]any{}
	}
	c.Options = append([]string(nil), p.Options...)
	if len(p.SubProblems) > 0 {
		c.SubProblems = make([]*Problem, len(p.SubProblems))
		for i, sp := range p.SubProblems {
			c.SubProblems[i] = sp.Clone()
		}
	}
	return &c
}

// Solution is the outcome of running a strategy on a problem.
type Solution struct {
	ProblemID        string       `json:"problem_id"`
	Strategy         StrategyName `json:"strategy_used"`
	Result           string       `json:"result"`
	ConsensusReached bool         `json:"consensus_reached"`
	// Winner is the winning option or agent id where the strategy has one.
	Winner           string  `json:"winner,omitempty"`
	AgreementPercent float64 `json:"agreement_percent"`
	// Incomplete flags a best-effort result produced after a deadline or
	// cancellation.
	Incomplete       bool         `json:"incomplete"`
	VoteResults      *VoteResults `json:"vote_results,omitempty"`
	ResultsCount     int          `json:"results_count,omitempty"`
	NonResponding    []string     `json:"non_responding,omitempty"`
	Rounds           int          `json:"rounds,omitempty"`
	SubProblemsCount int          `json:"sub_problems_count,omitempty"`
	SubSolutions     []*Solution  `json:"sub_solutions,omitempty"`
	Allocation       *Allocation  `json:"allocation,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      time.Time    `json:"completed_at"`
}

// Duration returns how long the strategy ran.
func (s *Solution) Duration() time.Duration {
	return s.CompletedAt.Sub(s.StartedAt)
}
