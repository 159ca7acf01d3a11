// Package core provides the foundational domain types shared by every
// component of agentcoord. It defines:
//
//   - Agents (identity, role, capability set and lifecycle state)
//   - Messages (immutable bus records addressed to an agent, a role or everyone)
//   - Votes and consensus requests (tallies, deterministic winners)
//   - Tasks, bids and allocations
//   - Problems and Solutions exchanged with the strategy engine
//   - The error taxonomy surfaced to callers
//
// The package intentionally contains no behavior that blocks or owns
// goroutines; the bus, hub, agent and coordinator packages build on these
// types.
package core
