package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "hub.heartbeat_timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Unwrap lets errors.Is match core.ErrInvalidArgument.
func (e ValidationErrors) Unwrap() error { return core.ErrInvalidArgument }

// Fields returns the failing field paths in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

var (
	historyBackends   = []string{"memory", "postgres"}
	knowledgeBackends = []string{"none", "memory", "bleve", "chromem"}
	modelProviders    = []string{"none", "openai", "anthropic"}
	logFormats        = []string{"text", "json"}
)

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Hub.HeartbeatInterval <= 0 {
		add("hub.heartbeat_interval", c.Hub.HeartbeatInterval, "must be positive")
	}
	if c.Hub.HeartbeatTimeout < c.Hub.HeartbeatInterval {
		add("hub.heartbeat_timeout", c.Hub.HeartbeatTimeout, "must not be shorter than hub.heartbeat_interval")
	}
	if c.Hub.LivenessSchedule != "" {
		if _, err := cron.ParseStandard(c.Hub.LivenessSchedule); err != nil {
			add("hub.liveness_schedule", c.Hub.LivenessSchedule, err.Error())
		}
	}
	if c.Hub.QueueCapacity < 0 {
		add("hub.queue_capacity", c.Hub.QueueCapacity, "must not be negative")
	}

	if err := core.ValidateAgreement(c.Strategy.ConsensusThreshold); err != nil {
		add("strategy.consensus_threshold", c.Strategy.ConsensusThreshold, "must be in (0, 1]")
	}
	if c.Strategy.ConsensusMaxRounds < 0 {
		add("strategy.consensus_max_rounds", c.Strategy.ConsensusMaxRounds, "must not be negative")
	}
	if c.Strategy.DebateRounds < 0 {
		add("strategy.debate_rounds", c.Strategy.DebateRounds, "must not be negative")
	}
	if c.Strategy.SubStrategy != "" {
		if _, err := core.ParseStrategy(c.Strategy.SubStrategy); err != nil {
			add("strategy.sub_strategy", c.Strategy.SubStrategy, "unknown strategy")
		}
	}
	if c.Strategy.MaxConcurrent < 0 {
		add("strategy.max_concurrent", c.Strategy.MaxConcurrent, "must not be negative")
	}

	if c.Agents.Count < 0 {
		add("agents.count", c.Agents.Count, "must not be negative")
	}
	if c.Agents.HeartbeatInterval <= 0 {
		add("agents.heartbeat_interval", c.Agents.HeartbeatInterval, "must be positive")
	} else if c.Agents.HeartbeatInterval >= c.Hub.HeartbeatTimeout {
		add("agents.heartbeat_interval", c.Agents.HeartbeatInterval, "must be shorter than hub.heartbeat_timeout")
	}
	for role, n := range c.Agents.Distribution {
		if _, err := core.ParseRole(role); err != nil {
			add("agents.distribution", role, "unknown role")
		} else if n < 0 {
			add("agents.distribution."+role, n, "must not be negative")
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", c.Logging.Level, "must be one of debug, info, warn, error")
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		add("logging.format", c.Logging.Format, "must be one of "+strings.Join(logFormats, ", "))
	}

	if !slices.Contains(historyBackends, c.History.Backend) {
		add("history.backend", c.History.Backend, "must be one of "+strings.Join(historyBackends, ", "))
	} else if c.History.Backend == "postgres" && c.History.DSN == "" {
		add("history.dsn", c.History.DSN, "is required for the postgres backend")
	}

	if !slices.Contains(knowledgeBackends, c.Knowledge.Backend) {
		add("knowledge.backend", c.Knowledge.Backend, "must be one of "+strings.Join(knowledgeBackends, ", "))
	}
	if c.Knowledge.TopK < 0 {
		add("knowledge.top_k", c.Knowledge.TopK, "must not be negative")
	}

	if !slices.Contains(modelProviders, c.Model.Provider) {
		add("model.provider", c.Model.Provider, "must be one of "+strings.Join(modelProviders, ", "))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		add("model.temperature", c.Model.Temperature, "must be in [0, 2]")
	}

	if c.API.Listen == "" {
		add("api.listen", c.API.Listen, "is required")
	}
	return errs
}

// AgentDistribution converts the configured distribution to roles. It is
// nil when no distribution is configured.
func (c *Config) AgentDistribution() map[core.Role]int {
	if len(c.Agents.Distribution) == 0 {
		return nil
	}
	out := make(map[core.Role]int, len(c.Agents.Distribution))
	for role, n := range c.Agents.Distribution {
		out[core.Role(role)] = n
	}
	return out
}
