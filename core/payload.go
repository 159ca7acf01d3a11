package core

import "time"

// VoteRequest is broadcast to eligible agents when a vote opens.
type VoteRequest struct {
	VoteID   string         `json:"vote_id"`
	Proposal string         `json:"proposal"`
	Options  []string       `json:"options"`
	Deadline time.Time      `json:"deadline"`
	Context  map[string]any `json:"context,omitempty"`
}

// VoteCast records a single ballot.
type VoteCast struct {
	VoteID  string `json:"vote_id"`
	AgentID string `json:"agent_id"`
	Option  string `json:"option"`
}

// TaskAnnouncement invites capable agents to bid on a task.
type TaskAnnouncement struct {
	Task     Task      `json:"task"`
	Deadline time.Time `json:"deadline"`
}

// WorkKind tells an agent what is expected in response to a WorkRequest.
type WorkKind string

const (
	// WorkSolve asks for an independent solution to the problem.
	WorkSolve WorkKind = "solve"
	// WorkPropose asks for a position, refined against prior positions.
	WorkPropose WorkKind = "propose"
)

// WorkRequest is sent directly to agents that must answer with a
// Contribution.
type WorkRequest struct {
	RequestID string   `json:"request_id"`
	Kind      WorkKind `json:"kind"`
	Problem   Problem  `json:"problem"`
	Round     int      `json:"round,omitempty"`
	// Positions holds the prior round's outputs keyed by agent id.
	Positions map[string]string `json:"positions,omitempty"`
	Deadline  time.Time         `json:"deadline"`
}

// Contribution is an agent's answer to a WorkRequest.
type Contribution struct {
	AgentID string         `json:"agent_id"`
	Output  string         `json:"output"`
	Items   []string       `json:"items,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// AlertKind identifies a monitor alert.
type AlertKind string

const (
	AlertAgentDead     AlertKind = "agent_dead"
	AlertSystemHealth  AlertKind = "system_health"
	AlertHealRequested AlertKind = "heal_requested"
	AlertHelpRequested AlertKind = "help_requested"
)

// Alert is sent to monitors and healers.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	AgentID string    `json:"agent_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// HelpResponse is a healer's task_response to a help_request.
type HelpResponse struct {
	Healer      string `json:"healer"`
	RequestID   string `json:"request_id"`
	Diagnosis   string `json:"diagnosis"`
	ActionTaken string `json:"action_taken"`
	Healed      bool   `json:"healed"`
}

// Note is a shared note or knowledge snippet recorded by note-takers.
type Note struct {
	Author  string         `json:"author"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
}
