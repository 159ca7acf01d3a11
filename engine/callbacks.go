package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentcoord/core"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into problem solving without modifying strategy code.
// They are executed synchronously; a Before callback returning an error
// aborts the solve before any agent is contacted.
type CallbackType string

const (
	// CallbackBeforeSolve is triggered before a strategy starts.
	// Use for validation, admission control or instrumentation.
	CallbackBeforeSolve CallbackType = "before_solve"

	// CallbackAfterSolve is triggered after a strategy produced a solution,
	// including incomplete ones.
	CallbackAfterSolve CallbackType = "after_solve"

	// CallbackOnError is triggered when a strategy fails.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect.
type CallbackContext struct {
	// Problem is the problem being solved. Callbacks must not mutate it
	// after CallbackBeforeSolve.
	Problem *core.Problem

	// Solution is set for CallbackAfterSolve.
	Solution *core.Solution

	// Err is set for CallbackOnError.
	Err error

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for solve lifecycle hooks.
//
// Implementations should be fast and must be safe for concurrent use, since
// several problems may be solved at once.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterSolve,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("solved %s: %s", cc.Problem.ID, cc.Solution.Result)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager keeps callbacks per type and runs them in registration
// order. The first error stops execution of the remaining callbacks.
//
// The manager is safe for concurrent registration and execution.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
//
// Example:
//
//	err := manager.ExecuteCallbacks(ctx, CallbackBeforeSolve, callbackCtx)
//	if err != nil {
//	    return fmt.Errorf("callback failed: %w", err)
//	}
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackAfterSolve, func(msg string) {
//	    log.Printf("[ENGINE] %s", msg)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the problem and, when available, the solution or error.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil || callbackCtx.Problem == nil {
		return nil
	}
	p := callbackCtx.Problem
	switch {
	case callbackCtx.Err != nil:
		c.logger(fmt.Sprintf("[%s] problem=%s strategy=%s error=%v", c.callbackType, p.ID, p.Strategy, callbackCtx.Err))
	case callbackCtx.Solution != nil:
		s := callbackCtx.Solution
		c.logger(fmt.Sprintf("[%s] problem=%s strategy=%s result=%q incomplete=%t", c.callbackType, p.ID, s.Strategy, s.Result, s.Incomplete))
	default:
		c.logger(fmt.Sprintf("[%s] problem=%s strategy=%s", c.callbackType, p.ID, p.Strategy))
	}
	return nil
}

// ValidationCallback rejects problems before a strategy runs.
//
// Example:
//
//	callback := NewValidationCallback(func(p *core.Problem) error {
//	    if p.Strategy == core.StrategyDebate && len(p.Description) > 500 {
//	        return errors.New("debate topics must be short")
//	    }
//	    return nil
//	})
type ValidationCallback struct {
	validator func(p *core.Problem) error
}

// NewValidationCallback creates a new problem validation callback.
func NewValidationCallback(validator func(p *core.Problem) error) *ValidationCallback {
	return &ValidationCallback{validator: validator}
}

// Type returns the callback type (always CallbackBeforeSolve).
func (c *ValidationCallback) Type() CallbackType {
	return CallbackBeforeSolve
}

// Execute runs the validator against the problem.
func (c *ValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && callbackCtx.Problem != nil {
		return c.validator(callbackCtx.Problem)
	}
	return nil
}
