// Package logging provides a minimal logging interface and adapters for agentcoord.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the bus, hub, agents and strategies use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - CoordLogger with component/agent/problem context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	c, err := coordinator.New(func(o *coordinator.Options) { o.Logger = logger })
package logging
