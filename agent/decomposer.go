package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/internal/prompt"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/model"
)

var decomposeTemplate = prompt.MustParse("decompose", `
Problem: {{ .Problem.Description }}
Break this problem into at most {{ .MaxParts }} independent sub-problems.
Reply with one sub-problem per line and nothing else.`)

// Decomposer splits a problem into sub-problems. It has the same shape as
// the strategy package's Decomposer.
type Decomposer interface {
	Decompose(ctx context.Context, p *core.Problem) ([]*core.Problem, error)
}

// ModelDecomposerOptions configures a ModelDecomposer.
type ModelDecomposerOptions struct {
	// MaxParts caps the number of sub-problems kept from a reply.
	MaxParts int
	// Fallback splits the problem when the model fails or returns fewer
	// than two sub-problems.
	Fallback Decomposer
	Logger   logging.Logger
}

// ModelDecomposer asks a language model to break a problem down.
type ModelDecomposer struct {
	model model.Model
	opts  ModelDecomposerOptions
	log   logging.Logger
}

// NewModelDecomposer creates a ModelDecomposer backed by m.
func NewModelDecomposer(m model.Model, optFns ...func(o *ModelDecomposerOptions)) *ModelDecomposer {
	opts := ModelDecomposerOptions{
		MaxParts: 5,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelDecomposer{model: m, opts: opts, log: logging.Component(opts.Logger, "decomposer")}
}

// Decompose implements the strategy package's Decomposer.
func (d *ModelDecomposer) Decompose(ctx context.Context, p *core.Problem) ([]*core.Problem, error) {
	subs, err := d.ask(ctx, p)
	if err == nil && len(subs) >= 2 {
		return subs, nil
	}
	if err != nil {
		d.log.Warn("Model decomposition failed", "problem_id", p.ID, "error", err.Error())
	}
	if d.opts.Fallback != nil {
		return d.opts.Fallback.Decompose(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("model returned %d sub-problems for %q", len(subs), p.Description)
}

func (d *ModelDecomposer) ask(ctx context.Context, p *core.Problem) ([]*core.Problem, error) {
	text, err := prompt.Execute(decomposeTemplate, map[string]any{"Problem": p, "MaxParts": d.opts.MaxParts})
	if err != nil {
		return nil, err
	}
	out, err := model.Complete(ctx, d.model, model.UserRequest("", text))
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	var subs []*core.Problem
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if line == "" {
			continue
		}
		subs = append(subs, &core.Problem{Description: line, Context: map[string]any{}})
		if len(subs) == d.opts.MaxParts {
			break
		}
	}
	return subs, nil
}
