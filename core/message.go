package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageType categorises a bus message.
type MessageType string

const (
	MessageTaskRequest      MessageType = "task_request"
	MessageTaskResponse     MessageType = "task_response"
	MessageVoteRequest      MessageType = "vote_request"
	MessageVoteCast         MessageType = "vote_cast"
	MessageConsensusReached MessageType = "consensus_reached"
	MessageStatusUpdate     MessageType = "status_update"
	MessageKnowledgeShare   MessageType = "knowledge_share"
	MessageHelpRequest      MessageType = "help_request"
	MessageSelfHeal         MessageType = "self_heal"
	MessageMonitorAlert     MessageType = "monitor_alert"
	MessageNoteTaking       MessageType = "note_taking"
)

// RecipientKind selects how a message is addressed.
type RecipientKind string

const (
	RecipientAgent     RecipientKind = "agent"
	RecipientRole      RecipientKind = "role"
	RecipientBroadcast RecipientKind = "broadcast"
)

// Recipient addresses a single agent, every agent of a role, or everyone.
type Recipient struct {
	Kind    RecipientKind `json:"kind"`
	AgentID string        `json:"agent_id,omitempty"`
	Role    Role          `json:"role,omitempty"`
}

// ToAgent addresses a single agent by id.
func ToAgent(id string) Recipient { return Recipient{Kind: RecipientAgent, AgentID: id} }

// ToRole addresses every eligible agent of a role.
func ToRole(r Role) Recipient { return Recipient{Kind: RecipientRole, Role: r} }

// Broadcast addresses every eligible agent.
func Broadcast() Recipient { return Recipient{Kind: RecipientBroadcast} }

// String renders the recipient for logs.
func (r Recipient) String() string {
	switch r.Kind {
	case RecipientAgent:
		return "agent:" + r.AgentID
	case RecipientRole:
		return "role:" + string(r.Role)
	default:
		return "broadcast"
	}
}

// Matches reports whether a subscriber with the given id and role is
// addressed by the recipient.
func (r Recipient) Matches(agentID string, role Role) bool {
	switch r.Kind {
	case RecipientAgent:
		return r.AgentID == agentID
	case RecipientRole:
		return r.Role == role
	case RecipientBroadcast:
		return true
	default:
		return false
	}
}

// Message is the unit of communication on the bus. After publication it
// must be treated as immutable.
type Message struct {
	ID               string      `json:"id"`
	Type             MessageType `json:"type"`
	Sender           string      `json:"sender"`
	Recipient        Recipient   `json:"recipient"`
	Payload          any         `json:"payload,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
	RequiresResponse bool        `json:"requires_response"`
	// CorrelationID links responses (bids, votes, contributions) to the
	// request that produced them.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewMessage creates a message with a fresh id and UTC timestamp.
func NewMessage(t MessageType, sender string, to Recipient, payload any) Message {
	return Message{
		ID:        NewID(),
		Type:      t,
		Sender:    sender,
		Recipient: to,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a globally unique identifier.
func NewID() string { return uuid.NewString() }

// ShortID returns the first eight hex characters of a fresh UUID.
func ShortID() string {
	id := uuid.New()
	return id.String()[:8]
}
