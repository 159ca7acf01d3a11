package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/strategy"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// This configuration focuses on admission and bookkeeping:
//   - Concurrency: How many problems can be solved simultaneously
//   - Deadlines: An upper bound for a single solve
//   - History: How many finished problems are kept for inspection
//
// Strategy timings (vote windows, bid windows, debate rounds) live in
// strategy.Settings rather than here.
//
// Example:
//
//	cfg := Config{
//	    MaxConcurrentProblems: 50,
//	    SolveTimeout:          2 * time.Minute,
//	    MaxHistory:            500,
//	}
type Config struct {
	// MaxConcurrentProblems limits the number of problems that can be
	// solved simultaneously. Further calls wait for a free slot or their
	// context. Set to 0 for unlimited.
	MaxConcurrentProblems int

	// SolveTimeout bounds a single solve. Strategies that hit it return
	// best-effort solutions flagged Incomplete. Set to 0 to rely on the
	// caller's context only.
	SolveTimeout time.Duration

	// MaxHistory caps the number of finished problem records kept in
	// memory. The oldest records are dropped first.
	MaxHistory int
}

// DefaultConfig provides production-ready default configuration values.
//
// Configuration values:
//   - MaxConcurrentProblems: 10 (safe for most agent populations)
//   - SolveTimeout: 2m (covers several debate or consensus rounds)
//   - MaxHistory: 100
var DefaultConfig = Config{
	MaxConcurrentProblems: 10,
	SolveTimeout:          2 * time.Minute,
	MaxHistory:            100,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(h, func(o *engine.Options) {
//	    o.Config.MaxConcurrentProblems = 4
//	    o.Settings.DebateRounds = 5
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// Registry resolves strategy names. Defaults to strategy.DefaultRegistry.
	Registry *strategy.Registry

	// Settings tune the built-in strategies. Zero fields fall back to
	// strategy.DefaultSettings.
	Settings strategy.Settings

	// Decomposer splits problems for the hierarchical strategy when a
	// problem carries no explicit sub-problems.
	Decomposer strategy.Decomposer

	// Callbacks receive solve lifecycle events. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Logger provides structured logging for debugging and monitoring.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// ProblemStatus is the lifecycle state of a submitted problem.
type ProblemStatus string

const (
	ProblemRunning    ProblemStatus = "running"
	ProblemSolved     ProblemStatus = "solved"
	ProblemIncomplete ProblemStatus = "incomplete"
	ProblemFailed     ProblemStatus = "failed"
	ProblemCancelled  ProblemStatus = "cancelled"
)

// ProblemRecord is the engine's bookkeeping for one problem.
type ProblemRecord struct {
	Problem     *core.Problem  `json:"problem"`
	Status      ProblemStatus  `json:"status"`
	Solution    *core.Solution `json:"solution,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

type activeProblem struct {
	record *ProblemRecord
	cancel context.CancelFunc
}

// Engine runs problems through the strategy registry on behalf of the
// coordinator.
//
// Core Responsibilities:
//   - Admission: bounded concurrent solves with context-aware waiting
//   - Dispatch: strategy lookup and execution via strategy.Registry
//   - Tracking: active problems with individual cancellation
//   - History: finished problem records for status reporting
//   - Hooks: before/after/error callbacks around every solve
//
// Concurrency Model:
//   - A buffered channel acts as the admission semaphore
//   - Active problems and history are guarded by one RWMutex
//   - Callbacks run on the solving goroutine outside of any lock
//
// The engine does not own the hub; callers remain responsible for its
// lifecycle.
type Engine struct {
	hub        strategy.Hub
	registry   *strategy.Registry
	settings   strategy.Settings
	decomposer strategy.Decomposer
	callbacks  *CallbackManager
	logger     logging.Logger
	config     Config

	slots chan struct{}

	mu      sync.RWMutex
	active  map[string]*activeProblem
	history []*ProblemRecord
}

// New creates a new Engine bound to h.
//
// Examples:
//
//	// Minimal setup with all defaults
//	eng := engine.New(h)
//
//	// Restricted strategy set
//	eng := engine.New(h, func(o *engine.Options) {
//	    o.Registry = strategy.NewRegistry(strategy.Voting{}, strategy.Auction{})
//	})
func New(h strategy.Hub, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:   DefaultConfig,
		Settings: strategy.DefaultSettings(),
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = strategy.DefaultRegistry()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	e := &Engine{
		hub:        h,
		registry:   opts.Registry,
		settings:   opts.Settings,
		decomposer: opts.Decomposer,
		callbacks:  opts.Callbacks,
		logger:     logging.Component(opts.Logger, "engine"),
		config:     opts.Config,
		active:     make(map[string]*activeProblem),
	}
	if opts.Config.MaxConcurrentProblems > 0 {
		e.slots = make(chan struct{}, opts.Config.MaxConcurrentProblems)
	}
	return e
}

// Registry returns the strategy registry used by the engine.
func (e *Engine) Registry() *strategy.Registry {
	return e.registry
}

// Callbacks returns the callback manager so hooks can be added after
// construction.
func (e *Engine) Callbacks() *CallbackManager {
	return e.callbacks
}

// Solve runs p with its named strategy and blocks until a solution is
// available.
//
// The problem is validated and, when it has no id, assigned a fresh one.
// A problem whose id is already being solved fails with ErrDuplicateID.
// When all slots are busy Solve waits for one or for ctx.
//
// Errors:
//   - Validation and unknown strategies: ErrInvalidArgument / ErrStrategy
//   - Before callbacks: the callback's error, the strategy never runs
//   - Strategy failures: passed through after the OnError callbacks ran
//
// Example:
//
//	p := core.NewProblem("pick a message broker", core.StrategyVoting)
//	p.Options = []string{"nats", "kafka"}
//	sol, err := eng.Solve(ctx, p)
func (e *Engine) Solve(ctx context.Context, p *core.Problem) (*core.Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.registry.Get(p.Strategy); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = core.NewID()
	}

	if err := e.acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for a solve slot: %w", err)
	}
	defer e.release()

	if e.config.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.SolveTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rec, err := e.track(p, cancel)
	if err != nil {
		return nil, err
	}

	cc := &CallbackContext{Problem: p, Metadata: map[string]any{}}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeSolve, cc); err != nil {
		e.finish(rec, nil, err)
		return nil, err
	}

	e.logger.Info("Solving problem", "problem_id", p.ID, "strategy", p.Strategy)
	env := strategy.Env{
		Hub:        e.hub,
		Settings:   e.settings,
		Decomposer: e.decomposer,
		Logger:     e.logger,
	}
	sol, err := e.registry.Run(ctx, env, p)
	if err != nil {
		cc.Err = err
		if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cc); cbErr != nil {
			e.logger.Warn("Error callback failed", "problem_id", p.ID, "error", cbErr)
		}
		e.finish(rec, sol, err)
		return sol, err
	}

	cc.Solution = sol
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterSolve, cc); err != nil {
		e.logger.Warn("After-solve callback failed", "problem_id", p.ID, "error", err)
	}
	e.finish(rec, sol, nil)
	return sol, nil
}

// Cancel stops an active problem. Its strategy returns a best-effort,
// incomplete solution. Unknown or finished ids fail with ErrTaskNotFound.
func (e *Engine) Cancel(problemID string) error {
	e.mu.Lock()
	ap, ok := e.active[problemID]
	if ok {
		ap.record.Status = ProblemCancelled
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("problem %s is not active: %w", problemID, core.ErrTaskNotFound)
	}
	ap.cancel()
	return nil
}

// ActiveCount returns the number of problems currently being solved.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// Active returns snapshots of the problems currently being solved, ordered
// by start time.
func (e *Engine) Active() []ProblemRecord {
	e.mu.RLock()
	out := make([]ProblemRecord, 0, len(e.active))
	for _, ap := range e.active {
		out = append(out, *ap.record)
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b ProblemRecord) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Problem.ID, b.Problem.ID)
	})
	return out
}

// Problems returns the finished problem records, oldest first.
func (e *Engine) Problems() []ProblemRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ProblemRecord, len(e.history))
	for i, r := range e.history {
		out[i] = *r
	}
	return out
}

// Problem looks up a problem record by id, active or finished.
func (e *Engine) Problem(id string) (ProblemRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ap, ok := e.active[id]; ok {
		return *ap.record, true
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Problem.ID == id {
			return *e.history[i], true
		}
	}
	return ProblemRecord{}, false
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.slots == nil {
		return ctx.Err()
	}
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	if e.slots != nil {
		<-e.slots
	}
}

func (e *Engine) track(p *core.Problem, cancel context.CancelFunc) (*ProblemRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.active[p.ID]; dup {
		return nil, fmt.Errorf("problem %s is already being solved: %w", p.ID, core.ErrDuplicateID)
	}
	rec := &ProblemRecord{
		Problem:   p,
		Status:    ProblemRunning,
		StartedAt: time.Now().UTC(),
	}
	e.active[p.ID] = &activeProblem{record: rec, cancel: cancel}
	return rec, nil
}

func (e *Engine) finish(rec *ProblemRecord, sol *core.Solution, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, rec.Problem.ID)

	rec.Solution = sol
	rec.CompletedAt = time.Now().UTC()
	switch {
	case rec.Status == ProblemCancelled:
	case err != nil && errors.Is(err, context.Canceled):
		rec.Status = ProblemCancelled
	case err != nil:
		rec.Status = ProblemFailed
	case sol != nil && sol.Incomplete:
		rec.Status = ProblemIncomplete
	default:
		rec.Status = ProblemSolved
	}
	if err != nil {
		rec.Error = err.Error()
	}

	e.history = append(e.history, rec)
	if limit := e.config.MaxHistory; limit > 0 && len(e.history) > limit {
		e.history = slices.Delete(e.history, 0, len(e.history)-limit)
	}
}
