// Package coordinator provides the high-level façade over the message bus,
// the communication hub, the agent workers and the strategy engine. Most
// applications interact with this package by:
//  1. Creating a Coordinator via New() (optionally with durable history,
//     a knowledge store and custom agent behaviors)
//  2. Spawning a mix of agents with SpawnAgents
//  3. Solving problems with SolveProblem or Solve
//  4. Inspecting the system with GetSystemStatus and shutting it down
//
// The façade delegates decisions to engine.Engine and the strategies while
// keeping setup and usage ergonomics concise. All defaults are in-memory and
// safe for local development and testing.
package coordinator
