// Package strategy implements the decision algorithms that turn a Problem
// into a Solution: voting, consensus, auction, swarm, debate and
// hierarchical decomposition.
//
// Every strategy talks to agents only through hub primitives (votes,
// auctions, work fan-out) exposed by the Hub interface. Deadlines end the
// current phase with whatever data arrived; the Solution is then flagged
// Incomplete instead of returning an error. Hard failures are reported with
// the core error sentinels (ErrQuorumNotMet, ErrAllocation, ErrStrategy).
//
// Adding a strategy means implementing Strategy and registering it:
//
//	reg := strategy.DefaultRegistry()
//	reg.Register(myStrategy{})
package strategy
