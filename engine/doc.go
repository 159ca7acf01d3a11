// Package engine runs problems through the strategy registry.
//
// The Engine sits between the coordinator and the strategies. The
// coordinator decides what to solve; the engine decides when it may run,
// which strategy handles it, and what is remembered about it afterwards.
//
// # Core Responsibilities
//
// Admission:
//   - Bounded concurrency with a context-aware semaphore
//   - Duplicate problem ids are rejected while the first is active
//   - An optional per-solve deadline on top of the caller's context
//
// Dispatch:
//   - Strategy lookup by name via strategy.Registry
//   - Shared strategy.Settings and an optional Decomposer for every run
//   - Recursive solving for hierarchical sub-problems
//
// Tracking:
//   - Active problems with per-problem cancellation
//   - A bounded history of finished problems and their outcome
//
// # Solve Flow
//
//	┌──────────────┐   ┌──────────┐   ┌──────────────┐   ┌────────────┐
//	│ acquire slot │──▶│ before   │──▶│ registry.Run │──▶│ after /    │
//	│ track id     │   │ callbacks│   │ (strategy)   │   │ on_error   │
//	└──────────────┘   └──────────┘   └──────────────┘   └────────────┘
//
// A before callback returning an error aborts the solve and is recorded as
// a failure. After and error callbacks are observers; their errors are
// logged and do not change the outcome.
//
// # Cancellation
//
// Cancel(id) cancels the context passed to the strategy. Strategies stop
// waiting for agents and return whatever they have, flagged Incomplete, so
// a cancelled problem still has a record with a best-effort solution where
// one existed.
//
// # Usage
//
//	eng := engine.New(h, func(o *engine.Options) {
//	    o.Config.MaxConcurrentProblems = 4
//	    o.Logger = logger
//	})
//
//	eng.Callbacks().RegisterCallback(engine.NewLoggingCallback(
//	    engine.CallbackAfterSolve,
//	    func(msg string) { log.Println(msg) },
//	))
//
//	p := core.NewProblem("choose a storage backend", core.StrategyConsensus)
//	p.Options = []string{"postgres", "sqlite"}
//	sol, err := eng.Solve(ctx, p)
package engine
