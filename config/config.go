// Package config loads agentcoord settings from YAML files and the
// environment using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/engine"
	"github.com/hupe1980/agentcoord/hub"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/strategy"
)

// EnvPrefix prefixes environment overrides, e.g. AGENTCOORD_HUB_HEARTBEAT_TIMEOUT.
const EnvPrefix = "AGENTCOORD"

// Config represents the complete agentcoord configuration.
type Config struct {
	Hub       HubConfig       `mapstructure:"hub"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	History   HistoryConfig   `mapstructure:"history"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Model     ModelConfig     `mapstructure:"model"`
	API       APIConfig       `mapstructure:"api"`
}

// HubConfig controls the bus and the communication hub.
type HubConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// HeartbeatTimeout is how long an agent may stay silent before it is
	// marked dead.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// LivenessSchedule is a cron spec overriding HeartbeatInterval for the
	// liveness check (e.g. "@every 10s").
	LivenessSchedule   string        `mapstructure:"liveness_schedule"`
	QueueCapacity      int           `mapstructure:"queue_capacity"`
	DeliveryTimeout    time.Duration `mapstructure:"delivery_timeout"`
	DefaultVoteTimeout time.Duration `mapstructure:"default_vote_timeout"`
	BidTimeout         time.Duration `mapstructure:"bid_timeout"`
	VoteRetention      time.Duration `mapstructure:"vote_retention"`
}

// StrategyConfig tunes the strategy engine.
type StrategyConfig struct {
	VoteTimeout        time.Duration `mapstructure:"vote_timeout"`
	ConsensusThreshold float64       `mapstructure:"consensus_threshold"`
	ConsensusMaxRounds int           `mapstructure:"consensus_max_rounds"`
	DebateRounds       int           `mapstructure:"debate_rounds"`
	RoundTimeout       time.Duration `mapstructure:"round_timeout"`
	SwarmTimeout       time.Duration `mapstructure:"swarm_timeout"`
	SwarmSize          int           `mapstructure:"swarm_size"`
	WorkTimeout        time.Duration `mapstructure:"work_timeout"`
	SubProblemTimeout  time.Duration `mapstructure:"sub_problem_timeout"`
	SubStrategy        string        `mapstructure:"sub_strategy"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	SolveTimeout       time.Duration `mapstructure:"solve_timeout"`
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
}

// AgentsConfig controls the agent pool.
type AgentsConfig struct {
	// Count is the number of agents spawned when no distribution is given.
	Count int `mapstructure:"count"`
	// Distribution maps role names to agent counts.
	Distribution map[string]int `mapstructure:"distribution"`
	// HeartbeatInterval is how often each agent reports liveness.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is text or json.
	Format string `mapstructure:"format"`
}

// HistoryConfig selects where published messages are kept.
type HistoryConfig struct {
	// Backend is memory or postgres.
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// KnowledgeConfig selects the knowledge store injected into problems.
type KnowledgeConfig struct {
	// Backend is none, memory, bleve or chromem.
	Backend string `mapstructure:"backend"`
	// Path persists bleve and chromem stores; empty keeps them in memory.
	Path string `mapstructure:"path"`
	TopK int    `mapstructure:"top_k"`
	// EmbeddingModel is the OpenAI embedding model used by chromem.
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// ModelConfig selects the text generation provider for agent behaviors.
type ModelConfig struct {
	// Provider is none, openai or anthropic.
	Provider    string  `mapstructure:"provider"`
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	// MaxCalls caps model calls per agent; 0 means unlimited.
	MaxCalls int `mapstructure:"max_calls"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	s := strategy.DefaultSettings()
	return &Config{
		Hub: HubConfig{
			HeartbeatInterval:  5 * time.Second,
			HeartbeatTimeout:   15 * time.Second,
			QueueCapacity:      64,
			DeliveryTimeout:    100 * time.Millisecond,
			DefaultVoteTimeout: 10 * time.Second,
			BidTimeout:         2 * time.Second,
			VoteRetention:      10 * time.Minute,
		},
		Strategy: StrategyConfig{
			VoteTimeout:        s.VoteTimeout,
			ConsensusThreshold: s.ConsensusThreshold,
			ConsensusMaxRounds: s.ConsensusMaxRounds,
			DebateRounds:       s.DebateRounds,
			RoundTimeout:       s.RoundTimeout,
			SwarmTimeout:       s.SwarmTimeout,
			SwarmSize:          s.SwarmSize,
			WorkTimeout:        s.WorkTimeout,
			SubProblemTimeout:  s.SubProblemTimeout,
			SubStrategy:        string(s.SubStrategy),
			MaxParallel:        s.MaxParallel,
			SolveTimeout:       engine.DefaultConfig.SolveTimeout,
			MaxConcurrent:      engine.DefaultConfig.MaxConcurrentProblems,
		},
		Agents: AgentsConfig{
			Count:             5,
			HeartbeatInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Backend: "memory",
		},
		Knowledge: KnowledgeConfig{
			Backend:        "none",
			TopK:           3,
			EmbeddingModel: "text-embedding-3-small",
		},
		Model: ModelConfig{
			Provider:    "none",
			Temperature: 0.7,
		},
		API: APIConfig{
			Listen: ":8080",
		},
	}
}

// SetDefaults registers every default on v so that environment overrides
// work even for keys missing from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("hub.heartbeat_interval", d.Hub.HeartbeatInterval)
	v.SetDefault("hub.heartbeat_timeout", d.Hub.HeartbeatTimeout)
	v.SetDefault("hub.liveness_schedule", d.Hub.LivenessSchedule)
	v.SetDefault("hub.queue_capacity", d.Hub.QueueCapacity)
	v.SetDefault("hub.delivery_timeout", d.Hub.DeliveryTimeout)
	v.SetDefault("hub.default_vote_timeout", d.Hub.DefaultVoteTimeout)
	v.SetDefault("hub.bid_timeout", d.Hub.BidTimeout)
	v.SetDefault("hub.vote_retention", d.Hub.VoteRetention)

	v.SetDefault("strategy.vote_timeout", d.Strategy.VoteTimeout)
	v.SetDefault("strategy.consensus_threshold", d.Strategy.ConsensusThreshold)
	v.SetDefault("strategy.consensus_max_rounds", d.Strategy.ConsensusMaxRounds)
	v.SetDefault("strategy.debate_rounds", d.Strategy.DebateRounds)
	v.SetDefault("strategy.round_timeout", d.Strategy.RoundTimeout)
	v.SetDefault("strategy.swarm_timeout", d.Strategy.SwarmTimeout)
	v.SetDefault("strategy.swarm_size", d.Strategy.SwarmSize)
	v.SetDefault("strategy.work_timeout", d.Strategy.WorkTimeout)
	v.SetDefault("strategy.sub_problem_timeout", d.Strategy.SubProblemTimeout)
	v.SetDefault("strategy.sub_strategy", d.Strategy.SubStrategy)
	v.SetDefault("strategy.max_parallel", d.Strategy.MaxParallel)
	v.SetDefault("strategy.solve_timeout", d.Strategy.SolveTimeout)
	v.SetDefault("strategy.max_concurrent", d.Strategy.MaxConcurrent)

	v.SetDefault("agents.count", d.Agents.Count)
	v.SetDefault("agents.heartbeat_interval", d.Agents.HeartbeatInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("history.backend", d.History.Backend)
	v.SetDefault("history.dsn", d.History.DSN)

	v.SetDefault("knowledge.backend", d.Knowledge.Backend)
	v.SetDefault("knowledge.path", d.Knowledge.Path)
	v.SetDefault("knowledge.top_k", d.Knowledge.TopK)
	v.SetDefault("knowledge.embedding_model", d.Knowledge.EmbeddingModel)

	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_calls", d.Model.MaxCalls)

	v.SetDefault("api.listen", d.API.Listen)
}

// NewViper returns a viper instance with defaults and environment
// overrides installed.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	// e.g. AGENTCOORD_STRATEGY_VOTE_TIMEOUT for strategy.vote_timeout
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) on top of the defaults and environment
// and validates the result.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// HubOptions applies the hub section.
func (c *Config) HubOptions(o *hub.Options) {
	o.HeartbeatInterval = c.Hub.HeartbeatInterval
	o.HeartbeatTimeout = c.Hub.HeartbeatTimeout
	o.LivenessSchedule = c.Hub.LivenessSchedule
	o.DefaultVoteTimeout = c.Hub.DefaultVoteTimeout
	o.BidTimeout = c.Hub.BidTimeout
	o.VoteRetention = c.Hub.VoteRetention
}

// StrategySettings converts the strategy section.
func (c *Config) StrategySettings() strategy.Settings {
	return strategy.Settings{
		VoteTimeout:        c.Strategy.VoteTimeout,
		ConsensusThreshold: c.Strategy.ConsensusThreshold,
		ConsensusMaxRounds: c.Strategy.ConsensusMaxRounds,
		DebateRounds:       c.Strategy.DebateRounds,
		RoundTimeout:       c.Strategy.RoundTimeout,
		SwarmTimeout:       c.Strategy.SwarmTimeout,
		SwarmSize:          c.Strategy.SwarmSize,
		BidTimeout:         c.Hub.BidTimeout,
		WorkTimeout:        c.Strategy.WorkTimeout,
		SubProblemTimeout:  c.Strategy.SubProblemTimeout,
		SubStrategy:        core.StrategyName(c.Strategy.SubStrategy),
		MaxParallel:        c.Strategy.MaxParallel,
	}
}

// EngineConfig converts the engine-related strategy fields.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig
	cfg.SolveTimeout = c.Strategy.SolveTimeout
	cfg.MaxConcurrentProblems = c.Strategy.MaxConcurrent
	return cfg
}

// Logger builds the logger described by the logging section.
func (c *Config) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewSlogLogger(level, c.Logging.Format, false), nil
}
