package cmd

import (
	"maps"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcoord/coordinator"
)

func newStatusCommand(st *cliState) *cobra.Command {
	var spawn bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the system status of a freshly wired coordinator",
		Long: `status wires a coordinator from the loaded configuration, optionally spawns
the configured agents, and prints the status report. It is useful for checking
configuration and backend connectivity.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			coord, store, err := newCoordinator(ctx, st.cfg)
			if err != nil {
				return err
			}
			defer closeAll(coord, store)

			if spawn {
				dist := st.cfg.AgentDistribution()
				if dist == nil {
					dist = maps.Clone(coordinator.DefaultDistribution)
				}
				if _, err := coord.SpawnAgents(ctx, 0, dist); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), coord.GetSystemStatus())
		},
	}
	cmd.Flags().BoolVar(&spawn, "spawn", false, "spawn the configured agents before reporting")
	return cmd
}
