package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/internal/prompt"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/model"
)

var (
	voteTemplate = prompt.MustParse("vote", `
Proposal: {{ .Proposal }}
{{- if .Context }}
Context: {{ .Context }}
{{- end }}
Choose exactly one of the following options and reply with the option text only:
{{ numbered .Options }}`)

	bidTemplate = prompt.MustParse("bid", `
Task: {{ .Task.Description }}
Complexity: {{ .Task.Complexity }}
Your capabilities: {{ join ", " .Self.Capabilities }}
Your completed tasks: {{ .Self.Load }}
Estimate the cost for you to perform this task as a single positive number. Lower means you are better suited.`)

	solveTemplate = prompt.MustParse("solve", `
Problem: {{ .Work.Problem.Description }}
{{- if .Work.Problem.Options }}
Candidate answers:
{{ numbered .Work.Problem.Options }}
{{- end }}
{{- if .Knowledge }}
Relevant knowledge:
{{ numbered .Knowledge }}
{{- end }}
{{- if .Work.Positions }}
Positions from round {{ .PrevRound }}:
{{ positions .Work.Positions }}
Restate your position, changing it only if another position is more convincing.
{{- else }}
Give your proposed solution in a few sentences.
{{- end }}`)
)

const defaultInstructions = `You are {{ .ID }}, a {{ .Role }} agent in a team of cooperating agents. Answer concisely.`

var numberPattern = regexp.MustCompile(`[-+]?\d+(\.\d+)?`)

// ModelBehaviorOptions configures a ModelBehavior.
type ModelBehaviorOptions struct {
	// Instructions is a template rendered with Self.
	Instructions string
	// MaxCalls caps model generations over the behavior's lifetime; 0 means
	// unlimited.
	MaxCalls int
	// Fallback answers when the model fails or its answer is unusable.
	Fallback Behavior
	Logger   logging.Logger
}

// ModelBehavior asks a language model for votes, bids and solutions.
type ModelBehavior struct {
	model   model.Model
	opts    ModelBehaviorOptions
	limiter *core.CallLimiter
	log     logging.Logger
}

// NewModelBehavior creates a ModelBehavior backed by m.
func NewModelBehavior(m model.Model, optFns ...func(o *ModelBehaviorOptions)) *ModelBehavior {
	opts := ModelBehaviorOptions{
		Instructions: defaultInstructions,
		Fallback:     RuleBehavior{},
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelBehavior{
		model:   m,
		opts:    opts,
		limiter: core.NewCallLimiter(opts.MaxCalls),
		log:     logging.Component(opts.Logger, "model_behavior"),
	}
}

// Calls returns the number of model generations made so far.
func (b *ModelBehavior) Calls() int { return b.limiter.Count() }

// Vote implements Behavior. The reply is matched against the options
// case-insensitively.
func (b *ModelBehavior) Vote(ctx context.Context, self Self, req core.VoteRequest) (string, error) {
	text, err := b.ask(ctx, self, voteTemplate, req)
	if err == nil {
		if opt, ok := matchOption(text, req.Options); ok {
			return opt, nil
		}
		b.log.Debug("Unusable vote reply", "agent_id", self.ID, "reply", text)
	}
	return b.opts.Fallback.Vote(ctx, self, req)
}

// Bid implements Behavior. The first number in the reply is the cost.
func (b *ModelBehavior) Bid(ctx context.Context, self Self, task core.Task) (float64, error) {
	text, err := b.ask(ctx, self, bidTemplate, map[string]any{"Task": task, "Self": self})
	if err == nil {
		if m := numberPattern.FindString(text); m != "" {
			if cost, perr := strconv.ParseFloat(m, 64); perr == nil && cost >= 0 {
				return cost, nil
			}
		}
		b.log.Debug("Unusable bid reply", "agent_id", self.ID, "reply", text)
	}
	return b.opts.Fallback.Bid(ctx, self, task)
}

// Solve implements Behavior.
func (b *ModelBehavior) Solve(ctx context.Context, self Self, work core.WorkRequest) (core.Contribution, error) {
	knowledge, _ := work.Problem.Context[core.ContextKeyKnowledge].([]string)
	text, err := b.ask(ctx, self, solveTemplate, map[string]any{
		"Work":      work,
		"Knowledge": knowledge,
		"PrevRound": work.Round - 1,
	})
	if err != nil {
		return b.opts.Fallback.Solve(ctx, self, work)
	}
	text = strings.TrimSpace(text)
	return core.Contribution{
		Output: text,
		Items:  []string{text},
		Data:   map[string]any{"model": b.model.Info().Name},
	}, nil
}

func (b *ModelBehavior) ask(ctx context.Context, self Self, tmpl *template.Template, data any) (string, error) {
	if err := b.limiter.Acquire(); err != nil {
		b.log.Warn("Model call budget exhausted", "agent_id", self.ID)
		return "", err
	}
	instructions, err := prompt.Render(b.opts.Instructions, self)
	if err != nil {
		return "", err
	}
	text, err := prompt.Execute(tmpl, data)
	if err != nil {
		return "", err
	}
	out, err := model.Complete(ctx, b.model, model.UserRequest(instructions, text))
	if err != nil {
		b.log.Warn("Model call failed", "agent_id", self.ID, "error", err.Error())
		return "", fmt.Errorf("%s: %w", tmpl.Name(), err)
	}
	return out, nil
}

// matchOption finds the option named by reply: an exact match first, then
// the longest option contained in the reply.
func matchOption(reply string, options []string) (string, bool) {
	r := strings.ToLower(strings.TrimSpace(reply))
	r = strings.Trim(r, ".\"' ")
	for _, o := range options {
		if strings.ToLower(o) == r {
			return o, true
		}
	}
	var best string
	for _, o := range options {
		if strings.Contains(r, strings.ToLower(o)) && len(o) > len(best) {
			best = o
		}
	}
	return best, best != ""
}
