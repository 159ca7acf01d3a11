package cmd

import (
	"fmt"
	"maps"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcoord/coordinator"
	"github.com/hupe1980/agentcoord/core"
)

func newSolveCommand(st *cliState) *cobra.Command {
	var (
		strategyName string
		agents       int
		options      []string
		subProblems  []string
		contextKVs   map[string]string
	)
	cmd := &cobra.Command{
		Use:   "solve <description>",
		Short: "Spawn agents and solve a single problem",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			coord, store, err := newCoordinator(ctx, st.cfg)
			if err != nil {
				return err
			}
			defer closeAll(coord, store)

			dist := st.cfg.AgentDistribution()
			switch {
			case agents > 0:
				dist = nil
			case dist == nil:
				dist = maps.Clone(coordinator.DefaultDistribution)
			}
			if _, err := coord.SpawnAgents(ctx, agents, dist); err != nil {
				return err
			}

			problemCtx := make(map[string]any, len(contextKVs))
			for k, v := range contextKVs {
				problemCtx[k] = v
			}
			var opts []coordinator.ProblemOption
			if len(options) > 0 {
				opts = append(opts, coordinator.WithOptions(options...))
			}
			if len(subProblems) > 0 {
				opts = append(opts, coordinator.WithSubProblems(subProblems...))
			}

			name := core.StrategyName(strings.ToLower(strategyName))
			sol, err := coord.SolveProblem(ctx, strings.Join(args, " "), name, problemCtx, opts...)
			if err != nil {
				return fmt.Errorf("solve: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), sol)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&strategyName, "strategy", "s", string(core.StrategyVoting), "decision strategy (voting, consensus, auction, swarm, debate, hierarchical)")
	f.IntVarP(&agents, "agents", "n", 0, "spawn this many problem solvers instead of the configured distribution")
	f.StringSliceVarP(&options, "option", "o", nil, "candidate answer (repeatable)")
	f.StringArrayVar(&subProblems, "sub-problem", nil, "explicit sub-problem for the hierarchical strategy (repeatable)")
	f.StringToStringVar(&contextKVs, "context", nil, "problem context as key=value pairs")
	return cmd
}
