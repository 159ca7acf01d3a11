package strategy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/hub"
	"github.com/hupe1980/agentcoord/logging"
)

// Strategy resolves a problem using the agents reachable through env.
type Strategy interface {
	Name() core.StrategyName
	Solve(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error)
}

// Hub is the set of coordination primitives strategies use.
type Hub interface {
	Agents(filter func(core.AgentInfo) bool) []core.AgentInfo
	RequestVote(ctx context.Context, proposal string, options []string, timeout time.Duration, optFns ...hub.VoteOption) (string, error)
	RequestConsensus(ctx context.Context, topic string, requiredAgreement float64, timeout time.Duration, optFns ...hub.VoteOption) (string, error)
	AwaitVote(ctx context.Context, voteID string) (core.VoteResults, error)
	AwaitConsensus(ctx context.Context, voteID string) (core.ConsensusResult, error)
	AllocateTask(ctx context.Context, task core.Task, method core.AllocationMethod, optFns ...hub.AllocateOption) (core.Allocation, error)
	Gather(ctx context.Context, agentIDs []string, work core.WorkRequest, timeout time.Duration) (hub.GatherResult, error)
	Dispatch(ctx context.Context, agentID string, work core.WorkRequest, timeout time.Duration) (core.Contribution, error)
}

// Settings tune the strategies. Zero values are replaced by defaults.
type Settings struct {
	VoteTimeout        time.Duration `json:"vote_timeout"`
	ConsensusThreshold float64       `json:"consensus_threshold"`
	ConsensusMaxRounds int           `json:"consensus_max_rounds"`
	DebateRounds       int           `json:"debate_rounds"`
	RoundTimeout       time.Duration `json:"round_timeout"`
	SwarmTimeout       time.Duration `json:"swarm_timeout"`
	// SwarmSize limits the swarm to the first N solvers by id; 0 means all.
	SwarmSize         int               `json:"swarm_size"`
	BidTimeout        time.Duration     `json:"bid_timeout"`
	WorkTimeout       time.Duration     `json:"work_timeout"`
	SubProblemTimeout time.Duration     `json:"sub_problem_timeout"`
	SubStrategy       core.StrategyName `json:"sub_strategy"`
	// MaxParallel bounds concurrently solved sub-problems.
	MaxParallel int `json:"max_parallel"`
	MaxDepth    int `json:"max_depth"`
}

// DefaultSettings returns the built-in tuning.
func DefaultSettings() Settings {
	return Settings{
		VoteTimeout:        5 * time.Second,
		ConsensusThreshold: core.DefaultConsensusThreshold,
		ConsensusMaxRounds: 3,
		DebateRounds:       3,
		RoundTimeout:       5 * time.Second,
		SwarmTimeout:       10 * time.Second,
		BidTimeout:         2 * time.Second,
		WorkTimeout:        10 * time.Second,
		SubProblemTimeout:  30 * time.Second,
		SubStrategy:        core.StrategyAuction,
		MaxParallel:        4,
		MaxDepth:           3,
	}
}

// withDefaults fills zero fields.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.VoteTimeout <= 0 {
		s.VoteTimeout = d.VoteTimeout
	}
	if s.ConsensusThreshold <= 0 || s.ConsensusThreshold > 1 {
		s.ConsensusThreshold = d.ConsensusThreshold
	}
	if s.ConsensusMaxRounds <= 0 {
		s.ConsensusMaxRounds = d.ConsensusMaxRounds
	}
	if s.DebateRounds <= 0 {
		s.DebateRounds = d.DebateRounds
	}
	if s.RoundTimeout <= 0 {
		s.RoundTimeout = d.RoundTimeout
	}
	if s.SwarmTimeout <= 0 {
		s.SwarmTimeout = d.SwarmTimeout
	}
	if s.BidTimeout <= 0 {
		s.BidTimeout = d.BidTimeout
	}
	if s.WorkTimeout <= 0 {
		s.WorkTimeout = d.WorkTimeout
	}
	if s.SubProblemTimeout <= 0 {
		s.SubProblemTimeout = d.SubProblemTimeout
	}
	if s.SubStrategy == "" {
		s.SubStrategy = d.SubStrategy
	}
	if s.MaxParallel <= 0 {
		s.MaxParallel = d.MaxParallel
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = d.MaxDepth
	}
	return s
}

// Env carries what a strategy may use while solving.
type Env struct {
	Hub        Hub
	Settings   Settings
	Decomposer Decomposer
	Logger     logging.Logger

	registry *Registry
}

// Solve runs p through the registry env came from. Hierarchical strategies
// use it to solve sub-problems with any strategy.
func (e Env) Solve(ctx context.Context, p *core.Problem) (*core.Solution, error) {
	if e.registry == nil {
		return nil, fmt.Errorf("environment has no registry: %w", core.ErrStrategy)
	}
	return e.registry.Run(ctx, e, p)
}

// Solvers returns the ids of reachable problem solvers in ascending order.
func (e Env) Solvers() []string {
	agents := e.Hub.Agents(func(a core.AgentInfo) bool {
		return a.Role == core.RoleProblemSolver && hub.Reachable(a)
	})
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}

func (e Env) log() logging.Logger {
	if e.Logger == nil {
		return logging.NoOpLogger{}
	}
	return e.Logger
}

// Registry maps strategy names to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[core.StrategyName]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[core.StrategyName]Strategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry returns a registry with all built-in strategies.
func DefaultRegistry() *Registry {
	return NewRegistry(Voting{}, Consensus{}, Auction{}, Swarm{}, Debate{}, Hierarchical{})
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get looks up a strategy. Unknown names fail with ErrStrategy.
func (r *Registry) Get(name core.StrategyName) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q is not registered: %w", name, core.ErrStrategy)
	}
	return s, nil
}

// Names lists the registered strategies in sorted order.
func (r *Registry) Names() []core.StrategyName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.strategies))
}

// Run validates p, dispatches it to its strategy and stamps the solution.
func (r *Registry) Run(ctx context.Context, env Env, p *core.Problem) (*core.Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s, err := r.Get(p.Strategy)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = core.NewID()
	}
	env.registry = r
	env.Settings = env.Settings.withDefaults()

	started := time.Now().UTC()
	sol, err := s.Solve(ctx, env, p)
	if sol != nil {
		sol.ProblemID = p.ID
		sol.Strategy = s.Name()
		sol.StartedAt = started
		sol.CompletedAt = time.Now().UTC()
	}

	if cl, ok := env.log().(interface {
		LogStrategyRun(string, time.Duration, bool, error)
	}); ok {
		cl.LogStrategyRun(string(s.Name()), time.Since(started), sol != nil && sol.Incomplete, err)
	}
	return sol, err
}

func newSolution(p *core.Problem) *core.Solution {
	return &core.Solution{ProblemID: p.ID, Strategy: p.Strategy}
}

// isContextErr reports whether err stems from a cancelled or expired context.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// distinct returns the non-empty trimmed values in first-seen order.
func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// outputs returns the contribution outputs keyed by agent id.
func outputs(cs []core.Contribution) map[string]string {
	m := make(map[string]string, len(cs))
	for _, c := range cs {
		if out := strings.TrimSpace(c.Output); out != "" {
			m[c.AgentID] = out
		}
	}
	return m
}

// ordered returns map values ordered by key.
func ordered(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}
	return out
}

// plurality returns the most frequent value and its share; ties go to the
// value seen first in values.
func plurality(values []string) (string, float64) {
	if len(values) == 0 {
		return "", 0
	}
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best, bestN := "", 0
	for _, v := range distinct(values) {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best, float64(bestN) / float64(len(values))
}
