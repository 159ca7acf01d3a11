package core

import (
	"fmt"
	"slices"
	"time"
)

// Role classifies what an agent is able to do in the system.
type Role string

const (
	// RoleProblemSolver agents vote, bid and produce solutions.
	RoleProblemSolver Role = "problem_solver"
	// RoleMonitor agents watch system health and raise alerts.
	RoleMonitor Role = "monitor"
	// RoleNoteTaker agents record shared notes and knowledge.
	RoleNoteTaker Role = "note_taker"
	// RoleHealer agents react to failures and dead agents.
	RoleHealer Role = "healer"
	// RoleCoordinator agents help with allocation and consensus.
	RoleCoordinator Role = "coordinator"
)

// Roles lists every known role in a stable order.
var Roles = []Role{RoleProblemSolver, RoleMonitor, RoleNoteTaker, RoleHealer, RoleCoordinator}

// ParseRole converts a textual role into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !slices.Contains(Roles, r) {
		return "", fmt.Errorf("unknown role %q: %w", s, ErrInvalidArgument)
	}
	return r, nil
}

// DefaultCapabilities returns the capability tags an agent of the given role
// advertises when none are supplied explicitly.
func DefaultCapabilities(r Role) []string {
	switch r {
	case RoleProblemSolver:
		return []string{"reasoning", "planning", "execution"}
	case RoleMonitor:
		return []string{"monitoring", "alerting", "analysis"}
	case RoleNoteTaker:
		return []string{"documentation", "summarization", "memory"}
	case RoleHealer:
		return []string{"error_detection", "self_healing", "recovery"}
	case RoleCoordinator:
		return []string{"coordination", "task_allocation", "consensus"}
	default:
		return nil
	}
}

// AgentState is the lifecycle state of a registered agent.
//
//	Registered → Active ⇄ (Busy | Idle) → Dead → Deregistered
type AgentState string

const (
	StateRegistered   AgentState = "registered"
	StateActive       AgentState = "active"
	StateBusy         AgentState = "busy"
	StateIdle         AgentState = "idle"
	StateDead         AgentState = "dead"
	StateDeregistered AgentState = "deregistered"
)

// CanReceiveRoleMessages reports whether role-targeted and broadcast messages
// are delivered to an agent in this state.
func (s AgentState) CanReceiveRoleMessages() bool {
	return s == StateActive || s == StateIdle
}

// Available reports whether the agent can still be addressed directly.
func (s AgentState) Available() bool {
	return s != StateDead && s != StateDeregistered
}

// AgentInfo is a snapshot of a registered agent.
type AgentInfo struct {
	ID            string            `json:"id"`
	Role          Role              `json:"role"`
	Capabilities  []string          `json:"capabilities"`
	State         AgentState        `json:"state"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// HasCapabilities reports whether the agent advertises every required tag.
func (a AgentInfo) HasCapabilities(required []string) bool {
	for _, c := range required {
		if !slices.Contains(a.Capabilities, c) {
			return false
		}
	}
	return true
}

// AgentStatus is the per-agent view returned by the hub status query.
type AgentStatus struct {
	Role          Role       `json:"role"`
	State         AgentState `json:"state"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

// HealthStatus summarises hub health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is returned by the hub health check.
type HealthReport struct {
	Status       HealthStatus `json:"status"`
	DeadAgents   []string     `json:"dead_agents"`
	TotalAgents  int          `json:"total_agents"`
	MessageCount int          `json:"message_count"`
	Timestamp    time.Time    `json:"timestamp"`
}
