// Package agent contains the worker agents that take part in coordination.
// A Worker owns one bus subscription and runs two goroutines: a receive loop
// that reacts to hub traffic and a heartbeat loop that keeps the agent alive
// in the hub registry. The package focuses on three concerns:
//
//  1. Lifecycle plumbing (Start, Stop, heartbeats, Busy/Idle transitions)
//  2. Message handling per role (votes, bids, work, alerts, notes)
//  3. Pluggable decision making through the Behavior interface
//
// Behaviors:
//   - RuleBehavior is deterministic and needs no external service
//   - FuncBehavior wires plain functions, mostly for tests and embedding
//   - ModelBehavior asks a model.Model and falls back to another Behavior
//     when the answer cannot be used
//
// Workers never talk to each other directly. Every interaction goes through
// the hub so that votes, bids and contributions are validated and recorded.
package agent
