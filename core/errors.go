package core

import "errors"

// Failure classes surfaced to callers. Call sites wrap them with context;
// match with errors.Is.
var (
	// ErrCommunication means the message bus is closed or unreachable.
	ErrCommunication = errors.New("communication error")
	// ErrTimeout means a deadline passed before the required responses arrived.
	ErrTimeout = errors.New("timeout")
	// ErrQuorumNotMet means zero or too few ballots were cast.
	ErrQuorumNotMet = errors.New("quorum not met")
	// ErrAllocation means no eligible bidder answered a task announcement.
	ErrAllocation = errors.New("allocation error")
	// ErrAgentUnavailable means the target agent is dead, deregistered or unknown.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrStrategy means an unknown strategy or a malformed decomposition.
	ErrStrategy = errors.New("strategy error")
)

// Errors for invalid hub operations.
var (
	ErrAgentAlreadyRegistered = errors.New("agent already registered")
	ErrAgentNotFound          = errors.New("agent not found")
	ErrVoteClosed             = errors.New("vote closed")
	ErrInvalidOption          = errors.New("invalid vote option")
	ErrVoteNotFound           = errors.New("vote not found")
	ErrIneligibleVoter        = errors.New("agent not eligible for vote")
	ErrTaskNotFound           = errors.New("task not found")
	ErrDuplicateID            = errors.New("duplicate id")
	ErrInvalidArgument        = errors.New("invalid argument")
)
