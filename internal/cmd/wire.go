package cmd

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentcoord/agent"
	"github.com/hupe1980/agentcoord/config"
	"github.com/hupe1980/agentcoord/coordinator"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/knowledge"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/model"
	"github.com/hupe1980/agentcoord/model/anthropic"
	"github.com/hupe1980/agentcoord/model/openai"
	"github.com/hupe1980/agentcoord/strategy"
)

// newCoordinator wires a Coordinator from cfg. The returned knowledge store
// may be nil and is owned by the caller.
func newCoordinator(ctx context.Context, cfg *config.Config) (*coordinator.Coordinator, knowledge.Store, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}

	store, err := newKnowledgeStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	m := newModel(cfg)

	coord, err := coordinator.New(ctx, func(o *coordinator.Options) {
		o.QueueCapacity = cfg.Hub.QueueCapacity
		o.DeliveryTimeout = cfg.Hub.DeliveryTimeout
		if cfg.History.Backend == "postgres" {
			o.HistoryDSN = cfg.History.DSN
		}
		o.Hub = cfg.HubOptions
		o.Engine = cfg.EngineConfig()
		o.Settings = cfg.StrategySettings()
		o.Decomposer = newDecomposer(m, logger)
		o.Knowledge = store
		o.KnowledgeTopK = cfg.Knowledge.TopK
		o.Logger = logger
		o.Agent = func(_ core.Role, ao *agent.Options) {
			ao.HeartbeatInterval = cfg.Agents.HeartbeatInterval
			if m != nil {
				ao.Behavior = agent.NewModelBehavior(m, func(mo *agent.ModelBehaviorOptions) {
					mo.MaxCalls = cfg.Model.MaxCalls
					mo.Logger = logger
				})
			}
		}
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, nil, err
	}
	return coord, store, nil
}

func newKnowledgeStore(cfg *config.Config) (knowledge.Store, error) {
	switch cfg.Knowledge.Backend {
	case "memory":
		return knowledge.NewMemoryStore(), nil
	case "bleve":
		return knowledge.NewBleveStore(cfg.Knowledge.Path)
	case "chromem":
		client := openai.NewModel().Client()
		return knowledge.NewChromemStore(
			openai.NewEmbeddingFunc(client, cfg.Knowledge.EmbeddingModel),
			func(o *knowledge.ChromemOptions) { o.Path = cfg.Knowledge.Path },
		)
	case "", "none":
		return nil, nil
	}
	return nil, fmt.Errorf("knowledge backend %q: %w", cfg.Knowledge.Backend, core.ErrInvalidArgument)
}

func newModel(cfg *config.Config) model.Model {
	switch cfg.Model.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			o.Temperature = cfg.Model.Temperature
		})
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			o.Temperature = cfg.Model.Temperature
		})
	}
	return nil
}

func newDecomposer(m model.Model, logger logging.Logger) strategy.Decomposer {
	if m == nil {
		return strategy.ListDecomposer{}
	}
	return agent.NewModelDecomposer(m, func(o *agent.ModelDecomposerOptions) {
		o.Fallback = strategy.ListDecomposer{}
		o.Logger = logger
	})
}
