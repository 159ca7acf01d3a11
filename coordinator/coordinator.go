package coordinator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/hupe1980/agentcoord/agent"
	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/bus/postgres"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/engine"
	"github.com/hupe1980/agentcoord/hub"
	"github.com/hupe1980/agentcoord/knowledge"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/strategy"
)

// Options configures the Coordinator instance.
type Options struct {
	// Bus tuning. Zero values use the bus defaults.
	QueueCapacity   int
	DeliveryTimeout time.Duration

	// History stores published messages. When nil and HistoryDSN is set a
	// PostgreSQL store is opened; otherwise an in-memory log is used.
	History    bus.HistoryStore
	HistoryDSN string

	// Hub configures liveness checks, vote and bid windows.
	Hub func(o *hub.Options)

	// Engine configuration (concurrency, solve deadline, history size).
	Engine engine.Config
	// Settings tune the built-in strategies.
	Settings strategy.Settings
	// Registry overrides the strategy set. Defaults to all built-ins.
	Registry *strategy.Registry
	// Decomposer splits hierarchical problems without explicit sub-problems.
	Decomposer strategy.Decomposer
	// Callbacks receive solve lifecycle events.
	Callbacks *engine.CallbackManager

	// Knowledge, when set, is searched with the problem description before
	// solving and the hits are injected under core.ContextKeyKnowledge.
	Knowledge     knowledge.Store
	KnowledgeTopK int

	// Behavior drives spawned agents. Defaults to agent.RuleBehavior.
	Behavior agent.Behavior
	// Agent customises the worker options per spawned agent.
	Agent func(role core.Role, o *agent.Options)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// DefaultDistribution is the role mix used by the demo and the CLI.
var DefaultDistribution = map[core.Role]int{
	core.RoleProblemSolver: 2,
	core.RoleMonitor:       1,
	core.RoleNoteTaker:     1,
	core.RoleHealer:        1,
}

// SystemStatus is the snapshot returned by GetSystemStatus.
type SystemStatus struct {
	TotalAgents    int                         `json:"total_agents"`
	AgentsByRole   map[core.Role]int           `json:"agents_by_role"`
	Agents         map[string]core.AgentStatus `json:"agents"`
	ActiveProblems int                         `json:"active_problems"`
	Health         core.HealthReport           `json:"communication_health"`
	Bus            bus.Stats                   `json:"bus"`
}

// Coordinator owns the agent pool and routes problems to strategies.
type Coordinator struct {
	opts    Options
	bus     *bus.Bus
	hub     *hub.Hub
	engine  *engine.Engine
	log     logging.Logger
	history *postgres.HistoryStore

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	workers map[string]*agent.Worker
	closed  bool
}

// New creates a Coordinator and starts the hub's liveness schedule. The
// context bounds the connection to a PostgreSQL history store only.
func New(ctx context.Context, optFns ...func(o *Options)) (*Coordinator, error) {
	opts := Options{
		Engine:        engine.DefaultConfig,
		Settings:      strategy.DefaultSettings(),
		KnowledgeTopK: knowledge.DefaultTopK,
		Behavior:      agent.RuleBehavior{},
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	c := &Coordinator{
		opts:    opts,
		log:     logging.Component(opts.Logger, "coordinator"),
		workers: make(map[string]*agent.Worker),
	}

	history := opts.History
	if history == nil && opts.HistoryDSN != "" {
		store, err := postgres.Open(ctx, opts.HistoryDSN)
		if err != nil {
			return nil, err
		}
		c.history = store
		history = store
	}

	c.bus = bus.New(func(o *bus.Options) {
		o.QueueCapacity = opts.QueueCapacity
		o.DeliveryTimeout = opts.DeliveryTimeout
		o.History = history
		o.Logger = opts.Logger
	})
	c.hub = hub.New(c.bus, func(o *hub.Options) {
		o.Logger = opts.Logger
		if opts.Hub != nil {
			opts.Hub(o)
		}
	})
	c.engine = engine.New(c.hub, func(o *engine.Options) {
		o.Config = opts.Engine
		o.Registry = opts.Registry
		o.Settings = opts.Settings
		o.Decomposer = opts.Decomposer
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})

	if err := c.hub.Start(); err != nil {
		c.bus.Close()
		if c.history != nil {
			c.history.Close()
		}
		return nil, err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Hub exposes the communication hub.
func (c *Coordinator) Hub() *hub.Hub { return c.hub }

// Bus exposes the message bus.
func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// Engine exposes the strategy engine.
func (c *Coordinator) Engine() *engine.Engine { return c.engine }

// SpawnAgents creates, registers and starts agents.
//
// With a nil or empty distribution, count problem solvers are spawned.
// Otherwise the distribution gives the number of agents per role and count
// must be zero or equal to its total. Ids have the form "<role>_<8 hex>".
// On failure the agents spawned so far keep running and are returned along
// with the error.
func (c *Coordinator) SpawnAgents(ctx context.Context, count int, distribution map[core.Role]int) ([]string, error) {
	if len(distribution) == 0 {
		if count <= 0 {
			return nil, fmt.Errorf("agent count must be positive: %w", core.ErrInvalidArgument)
		}
		distribution = map[core.Role]int{core.RoleProblemSolver: count}
	}
	total := 0
	for role, n := range distribution {
		if _, err := core.ParseRole(string(role)); err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative count for role %s: %w", role, core.ErrInvalidArgument)
		}
		total += n
	}
	if count > 0 && count != total {
		return nil, fmt.Errorf("count %d does not match distribution total %d: %w", count, total, core.ErrInvalidArgument)
	}

	ids := make([]string, 0, total)
	for _, role := range core.Roles {
		for range distribution[role] {
			if err := ctx.Err(); err != nil {
				return ids, err
			}
			id, err := c.spawn(role)
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
	}
	c.log.Info("Agents spawned", "count", len(ids))
	return ids, nil
}

func (c *Coordinator) spawn(role core.Role) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("coordinator is shut down: %w", core.ErrCommunication)
	}

	id := fmt.Sprintf("%s_%s", role, core.ShortID())
	if err := c.hub.RegisterAgent(id, role); err != nil {
		return "", err
	}
	w := agent.New(id, role, c.hub, c.bus, func(o *agent.Options) {
		o.Behavior = c.opts.Behavior
		o.Logger = c.opts.Logger
		if c.opts.Agent != nil {
			c.opts.Agent(role, o)
		}
	})
	if err := w.Start(c.ctx); err != nil {
		_ = c.hub.DeregisterAgent(id)
		return "", err
	}
	c.workers[id] = w
	c.log.Debug("Spawned agent", "agent_id", id, "role", role)
	return id, nil
}

// StopAgent stops and deregisters a single agent.
func (c *Coordinator) StopAgent(id string) error {
	c.mu.Lock()
	w, ok := c.workers[id]
	delete(c.workers, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", id, core.ErrAgentNotFound)
	}
	w.Stop()
	if err := c.hub.DeregisterAgent(id); err != nil && !errors.Is(err, core.ErrAgentNotFound) {
		return err
	}
	return nil
}

// Worker returns the running worker with the given id.
func (c *Coordinator) Worker(id string) (*agent.Worker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workers[id]
	return w, ok
}

// ProblemOption customises a problem built by SolveProblem.
type ProblemOption func(p *core.Problem)

// WithOptions sets the candidate answers.
func WithOptions(options ...string) ProblemOption {
	return func(p *core.Problem) { p.Options = options }
}

// WithSubProblems sets an explicit decomposition for the hierarchical
// strategy.
func WithSubProblems(descriptions ...string) ProblemOption {
	return func(p *core.Problem) {
		for i, d := range descriptions {
			p.SubProblems = append(p.SubProblems, &core.Problem{
				ID:          fmt.Sprintf("%s.%d", p.ID, i+1),
				Description: d,
			})
		}
	}
}

// WithProblemID overrides the generated problem id.
func WithProblemID(id string) ProblemOption {
	return func(p *core.Problem) { p.ID = id }
}

// SolveProblem builds a problem from its description and solves it.
func (c *Coordinator) SolveProblem(
	ctx context.Context,
	description string,
	name core.StrategyName,
	problemCtx map[string]any,
	optFns ...ProblemOption,
) (*core.Solution, error) {
	p := core.NewProblem(description, name)
	maps.Copy(p.Context, problemCtx)
	for _, fn := range optFns {
		fn(p)
	}
	return c.Solve(ctx, p)
}

// Solve runs p through the strategy engine after injecting knowledge.
func (c *Coordinator) Solve(ctx context.Context, p *core.Problem) (*core.Solution, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("coordinator is shut down: %w", core.ErrCommunication)
	}
	if p == nil {
		return nil, fmt.Errorf("nil problem: %w", core.ErrInvalidArgument)
	}
	if p.Context == nil {
		p.Context = map[string]any{}
	}
	c.injectKnowledge(ctx, p)
	return c.engine.Solve(ctx, p)
}

func (c *Coordinator) injectKnowledge(ctx context.Context, p *core.Problem) {
	if c.opts.Knowledge == nil {
		return
	}
	if _, ok := p.Context[core.ContextKeyKnowledge]; ok {
		return
	}
	hits, err := c.opts.Knowledge.Search(ctx, p.Description, c.opts.KnowledgeTopK)
	if err != nil {
		c.log.Warn("Knowledge search failed", "problem_id", p.ID, "error", err)
		return
	}
	if len(hits) > 0 {
		p.Context[core.ContextKeyKnowledge] = knowledge.Snippets(hits)
	}
}

// ShareKnowledge adds documents to the knowledge store and announces them
// to note-takers.
func (c *Coordinator) ShareKnowledge(ctx context.Context, docs ...knowledge.Document) error {
	if c.opts.Knowledge == nil {
		return fmt.Errorf("no knowledge store configured: %w", core.ErrInvalidArgument)
	}
	if err := c.opts.Knowledge.Add(ctx, docs...); err != nil {
		return err
	}
	for _, d := range docs {
		note := core.Note{Author: hub.ID, Content: d.Content, Data: map[string]any{"document_id": d.ID}}
		if _, err := c.hub.SendMessage(ctx, core.MessageKnowledgeShare, note, core.ToRole(core.RoleNoteTaker), false); err != nil {
			return err
		}
	}
	return nil
}

// CancelProblem stops an active problem.
func (c *Coordinator) CancelProblem(id string) error {
	return c.engine.Cancel(id)
}

// Problems returns finished problem records, oldest first.
func (c *Coordinator) Problems() []engine.ProblemRecord {
	return c.engine.Problems()
}

// Problem looks up an active or finished problem.
func (c *Coordinator) Problem(id string) (engine.ProblemRecord, bool) {
	return c.engine.Problem(id)
}

// GetSystemStatus reports agents per role and state, active problems and
// communication health.
func (c *Coordinator) GetSystemStatus() SystemStatus {
	agents := c.hub.GetAgentStatus()
	byRole := make(map[core.Role]int)
	for _, a := range agents {
		byRole[a.Role]++
	}
	return SystemStatus{
		TotalAgents:    len(agents),
		AgentsByRole:   byRole,
		Agents:         agents,
		ActiveProblems: c.engine.ActiveCount(),
		Health:         c.hub.HealthCheck(),
		Bus:            c.bus.Stats(),
	}
}

// MessageHistory returns the most recent messages, oldest first.
func (c *Coordinator) MessageHistory(ctx context.Context, limit int) ([]core.Message, error) {
	return c.hub.GetMessageHistory(ctx, limit)
}

// Shutdown cancels active problems, stops every worker, deregisters all
// agents and closes the bus. It returns ctx's error when the workers do not
// stop in time. Calling Shutdown twice is a no-op.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	workers := slices.Collect(maps.Values(c.workers))
	c.workers = make(map[string]*agent.Worker)
	c.mu.Unlock()

	for _, rec := range c.engine.Active() {
		_ = c.engine.Cancel(rec.Problem.ID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p := pool.New().WithMaxGoroutines(8)
		for _, w := range workers {
			p.Go(w.Stop)
		}
		p.Wait()
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("stopping agents: %w", ctx.Err())
	}
	c.cancel()

	for _, a := range c.hub.Agents(nil) {
		_ = c.hub.DeregisterAgent(a.ID)
	}
	c.hub.Stop()
	c.bus.Close()
	if c.history != nil {
		c.history.Close()
	}
	c.log.Info("Coordinator shut down", "agents", len(workers))
	return err
}
