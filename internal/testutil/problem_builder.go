package testutil

import (
	"github.com/hupe1980/agentcoord/core"
)

// ProblemBuilder helps construct problems with fluent chaining for tests.
// Example:
//
//	p := NewProblemBuilder("pick a db").Strategy(core.StrategyVoting).Options("pg", "mysql").Build()
type ProblemBuilder struct {
	p *core.Problem
}

// NewProblemBuilder creates a builder for a voting problem with the given description.
func NewProblemBuilder(description string) *ProblemBuilder {
	return &ProblemBuilder{p: core.NewProblem(description, core.StrategyVoting)}
}

// ID overrides the generated problem id (chainable).
func (b *ProblemBuilder) ID(id string) *ProblemBuilder { b.p.ID = id; return b }

// Strategy sets the strategy (chainable).
func (b *ProblemBuilder) Strategy(s core.StrategyName) *ProblemBuilder { b.p.Strategy = s; return b }

// Options sets the candidate options (chainable).
func (b *ProblemBuilder) Options(opts ...string) *ProblemBuilder {
	b.p.Options = append(b.p.Options, opts...)
	return b
}

// Context sets a context key (chainable).
func (b *ProblemBuilder) Context(key string, val any) *ProblemBuilder {
	b.p.Context[key] = val
	return b
}

// Sub appends sub-problems with the given descriptions, each using strategy s (chainable).
func (b *ProblemBuilder) Sub(s core.StrategyName, descriptions ...string) *ProblemBuilder {
	for _, d := range descriptions {
		b.p.SubProblems = append(b.p.SubProblems, core.NewProblem(d, s))
	}
	return b
}

// Build returns the problem.
func (b *ProblemBuilder) Build() *core.Problem { return b.p }
