package cmd

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcoord/coordinator"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/knowledge"
)

type demoProblem struct {
	description string
	strategy    core.StrategyName
	opts        []coordinator.ProblemOption
}

var demoProblems = []demoProblem{
	{
		description: "Optimize database query performance",
		strategy:    core.StrategyVoting,
		opts:        []coordinator.ProblemOption{coordinator.WithOptions("solution_a", "solution_b", "solution_c")},
	},
	{description: "Design new API endpoint", strategy: core.StrategyConsensus},
	{description: "Refactor legacy code module", strategy: core.StrategyAuction},
	{
		description: "Implement new feature",
		strategy:    core.StrategyHierarchical,
		opts: []coordinator.ProblemOption{coordinator.WithSubProblems(
			"Design the data model",
			"Implement the service layer",
			"Write integration tests",
		)},
	},
}

func newDemoCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Spawn a team and run one problem per core strategy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			coord, store, err := newCoordinator(ctx, st.cfg)
			if err != nil {
				return err
			}
			defer closeAll(coord, store)

			dist := st.cfg.AgentDistribution()
			if dist == nil {
				dist = maps.Clone(coordinator.DefaultDistribution)
			}
			ids, err := coord.SpawnAgents(ctx, 0, dist)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Spawned %d agents\n", len(ids))

			for _, dp := range demoProblems {
				sol, err := coord.SolveProblem(ctx, dp.description, dp.strategy, nil, dp.opts...)
				if err != nil {
					fmt.Fprintf(out, "%-12s %s: %v\n", dp.strategy, dp.description, err)
					continue
				}
				fmt.Fprintf(out, "%-12s %s: %s (consensus=%t, agreement=%.2f)\n",
					dp.strategy, dp.description, sol.Result, sol.ConsensusReached, sol.AgreementPercent)
			}
			return printJSON(out, coord.GetSystemStatus())
		},
	}
}

// closeAll shuts the coordinator down and closes the knowledge store.
func closeAll(coord *coordinator.Coordinator, store knowledge.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = coord.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
}
