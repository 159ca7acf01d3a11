package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"slices"
	"strings"

	"github.com/hupe1980/agentcoord/core"
)

// Self describes the worker a Behavior decides for.
type Self struct {
	ID           string
	Role         core.Role
	Capabilities []string
	// Load is the number of work requests the worker has completed.
	Load int
}

// Behavior decides how a worker votes, bids and answers work requests.
// Implementations must be safe for concurrent use by multiple workers.
type Behavior interface {
	// Vote returns one of req.Options.
	Vote(ctx context.Context, self Self, req core.VoteRequest) (string, error)
	// Bid returns a cost estimate for the task; lower is better.
	Bid(ctx context.Context, self Self, task core.Task) (float64, error)
	// Solve answers a WorkRequest of kind solve or propose.
	Solve(ctx context.Context, self Self, work core.WorkRequest) (core.Contribution, error)
}

// FuncBehavior adapts plain functions to Behavior. Nil functions fall back
// to RuleBehavior.
type FuncBehavior struct {
	VoteFunc  func(ctx context.Context, self Self, req core.VoteRequest) (string, error)
	BidFunc   func(ctx context.Context, self Self, task core.Task) (float64, error)
	SolveFunc func(ctx context.Context, self Self, work core.WorkRequest) (core.Contribution, error)
}

// Vote implements Behavior.
func (f FuncBehavior) Vote(ctx context.Context, self Self, req core.VoteRequest) (string, error) {
	if f.VoteFunc == nil {
		return RuleBehavior{}.Vote(ctx, self, req)
	}
	return f.VoteFunc(ctx, self, req)
}

// Bid implements Behavior.
func (f FuncBehavior) Bid(ctx context.Context, self Self, task core.Task) (float64, error) {
	if f.BidFunc == nil {
		return RuleBehavior{}.Bid(ctx, self, task)
	}
	return f.BidFunc(ctx, self, task)
}

// Solve implements Behavior.
func (f FuncBehavior) Solve(ctx context.Context, self Self, work core.WorkRequest) (core.Contribution, error) {
	if f.SolveFunc == nil {
		return RuleBehavior{}.Solve(ctx, self, work)
	}
	return f.SolveFunc(ctx, self, work)
}

// RuleBehavior is the deterministic default. Preferences are derived from a
// hash of the agent id, so the same agent always answers the same question
// the same way while different agents spread over the options.
type RuleBehavior struct {
	// Contrarian agents never vote "agree" on consensus proposals.
	Contrarian bool
}

// Vote prefers "agree" on consensus proposals and otherwise picks a
// hash-preferred option.
func (r RuleBehavior) Vote(_ context.Context, self Self, req core.VoteRequest) (string, error) {
	if len(req.Options) == 0 {
		return "", fmt.Errorf("vote %s has no options: %w", req.VoteID, core.ErrInvalidOption)
	}
	if slices.Contains(req.Options, "agree") {
		if !r.Contrarian {
			return "agree", nil
		}
		if slices.Contains(req.Options, "disagree") {
			return "disagree", nil
		}
	}
	return preferred(self.ID, req.Proposal, req.Options), nil
}

// Bid scales the task complexity by the worker's load and adds a stable
// per-agent jitter below one.
func (RuleBehavior) Bid(_ context.Context, self Self, task core.Task) (float64, error) {
	complexity := task.Complexity
	if complexity <= 0 {
		complexity = 1
	}
	if !capable(self, task.RequiredCapabilities) {
		complexity *= 10
	}
	jitter := float64(hash(self.ID, task.ID)%1000) / 1000
	cost := complexity*(1+float64(self.Load)/10) + jitter
	return math.Round(cost*1000) / 1000, nil
}

// Solve answers solve requests with an agent specific proposal. Propose
// requests start from the agent's preference and then adopt the plurality
// position of the previous round.
func (RuleBehavior) Solve(_ context.Context, self Self, work core.WorkRequest) (core.Contribution, error) {
	p := work.Problem
	if work.Kind == core.WorkPropose && len(work.Positions) > 0 {
		pos := plurality(work.Positions)
		return core.Contribution{Output: pos, Data: map[string]any{"round": work.Round}}, nil
	}

	var out string
	if len(p.Options) > 0 {
		out = preferred(self.ID, p.Description, p.Options)
	} else {
		out = fmt.Sprintf("%s proposes approach %d for %q", self.Role, hash(self.ID, p.Description)%3+1, p.Description)
	}
	c := core.Contribution{Output: out, Items: []string{out}}
	if k, ok := p.Context[core.ContextKeyKnowledge].([]string); ok && len(k) > 0 {
		c.Data = map[string]any{"knowledge_used": len(k)}
	}
	return c, nil
}

func capable(self Self, required []string) bool {
	for _, c := range required {
		if !slices.Contains(self.Capabilities, c) {
			return false
		}
	}
	return true
}

// plurality returns the most common position; ties go to the smallest.
func plurality(positions map[string]string) string {
	counts := make(map[string]int, len(positions))
	for _, p := range positions {
		counts[strings.TrimSpace(p)]++
	}
	var best string
	bestN := -1
	for p, n := range counts {
		if n > bestN || (n == bestN && p < best) {
			best, bestN = p, n
		}
	}
	return best
}

func preferred(id, key string, options []string) string {
	return options[hash(id, key)%uint32(len(options))]
}

func hash(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32()
}
