// Command agentcoord runs the multi-agent coordination engine.
package main

import (
	"os"

	"github.com/hupe1980/agentcoord/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
