package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/hupe1980/agentcoord/core"
)

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Hierarchical splits a problem into sub-problems, solves them concurrently
// with their own strategies and synthesizes the answers in order.
type Hierarchical struct{}

// Name implements Strategy.
func (Hierarchical) Name() core.StrategyName { return core.StrategyHierarchical }

// Solve implements Strategy. Sub-problems come from Problem.SubProblems or,
// when absent, from env.Decomposer. A sub-problem that fails outright fails
// the whole problem with ErrStrategy; one that runs out of time leaves a
// gap in the synthesis and marks the solution incomplete.
func (Hierarchical) Solve(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error) {
	sol := newSolution(p)

	depth := depthFrom(ctx)
	if depth >= env.Settings.MaxDepth {
		return nil, fmt.Errorf("decomposition deeper than %d levels: %w", env.Settings.MaxDepth, core.ErrStrategy)
	}

	subs, err := subProblems(ctx, env, p)
	if err != nil {
		return nil, err
	}
	sol.SubProblemsCount = len(subs)

	results := make([]*core.Solution, len(subs))
	errs := make([]error, len(subs))
	timedOut := make([]bool, len(subs))

	subCtx := context.WithValue(ctx, depthKey{}, depth+1)
	wp := pool.New().WithMaxGoroutines(env.Settings.MaxParallel)
	for i, sp := range subs {
		wp.Go(func() {
			c, cancel := context.WithTimeout(subCtx, env.Settings.SubProblemTimeout)
			defer cancel()
			results[i], errs[i] = env.Solve(c, sp)
			timedOut[i] = c.Err() != nil
		})
	}
	wp.Wait()

	var (
		lines     []string
		agreement float64
		reached   = true
	)
	sol.SubSolutions = make([]*core.Solution, len(subs))
	for i, sp := range subs {
		r := results[i]
		switch {
		case errs[i] != nil && timedOut[i]:
			env.log().Warn("Sub-problem timed out", "problem_id", p.ID, "sub_problem_id", sp.ID, "error", errs[i].Error())
			r = &core.Solution{ProblemID: sp.ID, Strategy: sp.Strategy, Incomplete: true}
		case errs[i] != nil:
			return nil, fmt.Errorf("sub-problem %d %q: %w: %w", i+1, sp.Description, core.ErrStrategy, errs[i])
		}
		sol.SubSolutions[i] = r
		if r.Incomplete {
			sol.Incomplete = true
		}
		if r.Result == "" {
			lines = append(lines, fmt.Sprintf("%d. %s: (no result)", i+1, sp.Description))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, sp.Description, r.Result))
		}
		agreement += r.AgreementPercent
		reached = reached && r.ConsensusReached
	}

	sol.Result = strings.Join(lines, "\n")
	sol.AgreementPercent = agreement / float64(len(subs))
	sol.ConsensusReached = reached
	return sol, nil
}

// subProblems returns the covering decomposition of p with ids, strategies
// and inherited context filled in.
func subProblems(ctx context.Context, env Env, p *core.Problem) ([]*core.Problem, error) {
	subs := p.SubProblems
	if len(subs) == 0 && env.Decomposer != nil {
		var err error
		if subs, err = env.Decomposer.Decompose(ctx, p); err != nil {
			return nil, fmt.Errorf("decompose %q: %w: %w", p.Description, core.ErrStrategy, err)
		}
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("problem %q has no sub-problems: %w", p.Description, core.ErrStrategy)
	}

	out := make([]*core.Problem, len(subs))
	for i, sp := range subs {
		if sp == nil || strings.TrimSpace(sp.Description) == "" {
			return nil, fmt.Errorf("sub-problem %d is empty: %w", i+1, core.ErrStrategy)
		}
		c := sp.Clone()
		if c.ID == "" {
			c.ID = fmt.Sprintf("%s.%d", p.ID, i+1)
		}
		if c.Strategy == "" {
			c.Strategy = env.Settings.SubStrategy
		}
		for k, v := range p.Context {
			if _, set := c.Context[k]; !set {
				c.Context[k] = v
			}
		}
		c.Context["parent_problem"] = p.ID
		out[i] = c
	}
	return out, nil
}

// Decomposer splits a problem into sub-problems.
type Decomposer interface {
	Decompose(ctx context.Context, p *core.Problem) ([]*core.Problem, error)
}

// DecomposerFunc adapts a function to Decomposer.
type DecomposerFunc func(ctx context.Context, p *core.Problem) ([]*core.Problem, error)

// Decompose implements Decomposer.
func (f DecomposerFunc) Decompose(ctx context.Context, p *core.Problem) ([]*core.Problem, error) {
	return f(ctx, p)
}

// ListDecomposer splits a description into one sub-problem per line or
// semicolon separated clause. Leading list markers such as "1." or "-" are
// removed. Descriptions with a single clause are not decomposable.
type ListDecomposer struct{}

// Decompose implements Decomposer.
func (ListDecomposer) Decompose(_ context.Context, p *core.Problem) ([]*core.Problem, error) {
	parts := strings.FieldsFunc(p.Description, func(r rune) bool { return r == '\n' || r == ';' })
	var subs []*core.Problem
	for _, part := range parts {
		part = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(part), "-*0123456789.) "))
		if part == "" {
			continue
		}
		subs = append(subs, &core.Problem{Description: part, Context: map[string]any{}})
	}
	if len(subs) < 2 {
		return nil, fmt.Errorf("cannot split %q into sub-problems", p.Description)
	}
	return subs, nil
}
