package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/strategy"
)

// stubStrategy answers every problem with its description, or blocks until
// the context ends when block is set.
type stubStrategy struct {
	block   bool
	err     error
	started chan string
}

func (s *stubStrategy) Name() core.StrategyName { return core.StrategyVoting }

func (s *stubStrategy) Solve(ctx context.Context, _ strategy.Env, p *core.Problem) (*core.Solution, error) {
	if s.started != nil {
		s.started <- p.ID
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.block {
		<-ctx.Done()
		return &core.Solution{Result: "partial", Incomplete: true}, nil
	}
	return &core.Solution{Result: p.Description, ConsensusReached: true}, nil
}

func newEngine(s *stubStrategy, optFns ...func(o *Options)) *Engine {
	return New(nil, append([]func(o *Options){func(o *Options) {
		o.Registry = strategy.NewRegistry(s)
	}}, optFns...)...)
}

func TestSolve_RecordsHistory(t *testing.T) {
	e := newEngine(&stubStrategy{})

	p := core.NewProblem("pick a broker", core.StrategyVoting)
	sol, err := e.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "pick a broker", sol.Result)
	assert.Equal(t, p.ID, sol.ProblemID)
	assert.Equal(t, core.StrategyVoting, sol.Strategy)

	rec, ok := e.Problem(p.ID)
	require.True(t, ok)
	assert.Equal(t, ProblemSolved, rec.Status)
	assert.False(t, rec.CompletedAt.IsZero())
	assert.Zero(t, e.ActiveCount())
	assert.Len(t, e.Problems(), 1)
}

func TestSolve_RejectsInvalidProblems(t *testing.T) {
	e := newEngine(&stubStrategy{})

	_, err := e.Solve(context.Background(), &core.Problem{Strategy: core.StrategyVoting})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = e.Solve(context.Background(), core.NewProblem("x", core.StrategySwarm))
	assert.ErrorIs(t, err, core.ErrStrategy)
	assert.Empty(t, e.Problems())
}

func TestSolve_AssignsMissingID(t *testing.T) {
	e := newEngine(&stubStrategy{})
	p := &core.Problem{Description: "no id", Strategy: core.StrategyVoting}
	_, err := e.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
}

func TestSolve_StrategyErrorRunsOnError(t *testing.T) {
	boom := errors.New("boom")
	e := newEngine(&stubStrategy{err: boom})

	var got error
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
		got = cc.Err
		return nil
	}))

	p := core.NewProblem("fails", core.StrategyVoting)
	_, err := e.Solve(context.Background(), p)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, got, boom)

	rec, _ := e.Problem(p.ID)
	assert.Equal(t, ProblemFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)
}

func TestSolve_BeforeCallbackAborts(t *testing.T) {
	s := &stubStrategy{started: make(chan string, 1)}
	e := newEngine(s)
	denied := errors.New("denied")
	e.Callbacks().RegisterCallback(NewValidationCallback(func(p *core.Problem) error {
		if p.Description == "forbidden" {
			return denied
		}
		return nil
	}))

	_, err := e.Solve(context.Background(), core.NewProblem("forbidden", core.StrategyVoting))
	assert.ErrorIs(t, err, denied)
	assert.Empty(t, s.started)

	_, err = e.Solve(context.Background(), core.NewProblem("allowed", core.StrategyVoting))
	assert.NoError(t, err)
}

func TestSolve_AfterCallbackSeesSolution(t *testing.T) {
	e := newEngine(&stubStrategy{})
	var lines []string
	e.Callbacks().RegisterCallback(NewLoggingCallback(CallbackAfterSolve, func(msg string) {
		lines = append(lines, msg)
	}))

	_, err := e.Solve(context.Background(), core.NewProblem("logged", core.StrategyVoting))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `result="logged"`)
}

func TestSolve_DuplicateActiveID(t *testing.T) {
	s := &stubStrategy{block: true, started: make(chan string, 2)}
	e := newEngine(s)

	p := core.NewProblem("long", core.StrategyVoting)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Solve(context.Background(), p)
	}()
	<-s.started

	_, err := e.Solve(context.Background(), &core.Problem{ID: p.ID, Description: "again", Strategy: core.StrategyVoting})
	assert.ErrorIs(t, err, core.ErrDuplicateID)

	require.NoError(t, e.Cancel(p.ID))
	<-done
	rec, _ := e.Problem(p.ID)
	assert.Equal(t, ProblemCancelled, rec.Status)
	assert.True(t, rec.Solution.Incomplete)
	assert.ErrorIs(t, e.Cancel(p.ID), core.ErrTaskNotFound)
}

func TestSolve_TimeoutYieldsIncomplete(t *testing.T) {
	e := newEngine(&stubStrategy{block: true}, func(o *Options) {
		o.Config.SolveTimeout = 20 * time.Millisecond
	})

	p := core.NewProblem("slow", core.StrategyVoting)
	sol, err := e.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, sol.Incomplete)

	rec, _ := e.Problem(p.ID)
	assert.Equal(t, ProblemIncomplete, rec.Status)
}

func TestSolve_ConcurrencyLimit(t *testing.T) {
	s := &stubStrategy{block: true, started: make(chan string, 4)}
	e := newEngine(s, func(o *Options) {
		o.Config.MaxConcurrentProblems = 1
	})

	first := core.NewProblem("first", core.StrategyVoting)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.Solve(context.Background(), first)
	}()
	<-s.started
	assert.Len(t, e.Active(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Solve(ctx, core.NewProblem("second", core.StrategyVoting))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, e.Cancel(first.ID))
	wg.Wait()
	assert.Empty(t, e.Active())
}

func TestHistory_IsBounded(t *testing.T) {
	e := newEngine(&stubStrategy{}, func(o *Options) {
		o.Config.MaxHistory = 2
	})
	var last string
	for _, d := range []string{"a", "b", "c"} {
		p := core.NewProblem(d, core.StrategyVoting)
		_, err := e.Solve(context.Background(), p)
		require.NoError(t, err)
		last = p.ID
	}
	records := e.Problems()
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].Problem.Description)
	assert.Equal(t, last, records[1].Problem.ID)
}

func TestCallbackManager_StopsAtFirstError(t *testing.T) {
	cm := NewCallbackManager()
	var calls int
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeSolve, func(context.Context, *CallbackContext) error {
		calls++
		return errors.New("stop")
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeSolve, func(context.Context, *CallbackContext) error {
		calls++
		return nil
	}))

	cc := &CallbackContext{}
	assert.Error(t, cm.ExecuteCallbacks(context.Background(), CallbackBeforeSolve, cc))
	assert.Equal(t, 1, calls)
	assert.Equal(t, CallbackBeforeSolve, cc.CallbackType)
	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackAfterSolve, cc))
}
