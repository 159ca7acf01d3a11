// Package cmd implements the agentcoord command line interface.
package cmd

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcoord/config"
)

// cliState holds what PersistentPreRunE loaded for the running command.
type cliState struct {
	configFile string
	cfg        *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:   "agentcoord",
		Short: "Multi-agent coordination engine",
		Long: `agentcoord runs a pool of cooperating agents that reach decisions through
voting, consensus, auctions, swarms, debates and hierarchical decomposition.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(st.configFile)
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&st.configFile, "config", "c", "", "config file (YAML); AGENTCOORD_* environment variables override it")

	root.AddCommand(
		newDemoCommand(st),
		newSolveCommand(st),
		newStatusCommand(st),
		newServeCommand(st),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
