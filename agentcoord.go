// Package agentcoord provides a high-level façade over the coordinator: it
// wires a coordinator, spawns a team of agents and exposes asynchronous and
// synchronous problem solving. Most applications interact with this package
// by:
//  1. Creating an AgentCoord via New() with a role distribution
//  2. Invoking problems asynchronously (Invoke) or synchronously (InvokeSync)
//  3. Closing the team with Close()
//
// Applications that need finer control (spawning agents later, sharing
// knowledge, serving HTTP) use the coordinator package directly.
package agentcoord

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/agentcoord/coordinator"
	"github.com/hupe1980/agentcoord/core"
)

// AgentCoord is a coordinator with a running team of agents.
type AgentCoord struct {
	coord  *coordinator.Coordinator
	agents []string
}

// New creates a coordinator and spawns distribution. A nil distribution
// spawns coordinator.DefaultDistribution.
func New(ctx context.Context, distribution map[core.Role]int, optFns ...func(o *coordinator.Options)) (*AgentCoord, error) {
	if distribution == nil {
		distribution = maps.Clone(coordinator.DefaultDistribution)
	}
	coord, err := coordinator.New(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	ids, err := coord.SpawnAgents(ctx, 0, distribution)
	if err != nil {
		_ = coord.Shutdown(ctx)
		return nil, fmt.Errorf("spawn team: %w", err)
	}
	return &AgentCoord{coord: coord, agents: ids}, nil
}

// Coordinator returns the underlying coordinator.
func (a *AgentCoord) Coordinator() *coordinator.Coordinator { return a.coord }

// Agents returns the ids spawned by New.
func (a *AgentCoord) Agents() []string { return append([]string(nil), a.agents...) }

// Invoke starts solving p in the background. Exactly one of the returned
// channels receives a value before both are closed.
func (a *AgentCoord) Invoke(ctx context.Context, p *core.Problem) (string, <-chan *core.Solution, <-chan error, error) {
	if p == nil {
		return "", nil, nil, fmt.Errorf("nil problem: %w", core.ErrInvalidArgument)
	}
	if p.ID == "" {
		p.ID = core.NewID()
	}
	solCh := make(chan *core.Solution, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(solCh)
		defer close(errCh)
		sol, err := a.coord.Solve(ctx, p)
		if err != nil {
			errCh <- err
			return
		}
		solCh <- sol
	}()
	return p.ID, solCh, errCh, nil
}

// InvokeSync solves p and waits for the solution.
func (a *AgentCoord) InvokeSync(ctx context.Context, p *core.Problem) (*core.Solution, error) {
	_, solCh, errCh, err := a.Invoke(ctx, p)
	if err != nil {
		return nil, err
	}
	select {
	case sol := <-solCh:
		if sol != nil {
			return sol, nil
		}
		return nil, <-errCh
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
		return <-solCh, nil
	}
}

// Close shuts the coordinator down.
func (a *AgentCoord) Close(ctx context.Context) error { return a.coord.Shutdown(ctx) }
