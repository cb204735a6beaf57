// Package protocol defines the JSON envelopes the chat platform exchanges
// over its WebSocket surface, together with the client-side arithmetic that
// rides along with them (reconnect backoff, heartbeat deadlines).
//
// The envelope shapes mirror what the web clients produce: flat objects with
// a "type" discriminator, camelCase field names, and RFC 3339 timestamps.
package protocol

import "time"

// Type discriminates envelope kinds on the wire.
type Type string

const (
	TypeMessage       Type = "message"
	TypeStreamChunk   Type = "stream_chunk"
	TypeAgentStart    Type = "agent_start"
	TypeAgentComplete Type = "agent_complete"
	TypeAgentMessage  Type = "agent_message"
	TypeError         Type = "error"
)

// Types lists every envelope type in a stable order.
func Types() []Type {
	return []Type{
		TypeMessage,
		TypeStreamChunk,
		TypeAgentStart,
		TypeAgentComplete,
		TypeAgentMessage,
		TypeError,
	}
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Agent completion statuses carried by agent_complete envelopes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Envelope is implemented by every wire message.
type Envelope interface {
	// EnvelopeType returns the canonical type discriminator.
	EnvelopeType() Type
	// Thread returns the conversation thread the envelope belongs to.
	Thread() string
	// SentAt returns the producer-side timestamp.
	SentAt() time.Time
}

// Message is a complete chat message in a thread.
type Message struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	ThreadID  string    `json:"threadId"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Message) EnvelopeType() Type { return TypeMessage }
func (m Message) Thread() string     { return m.ThreadID }
func (m Message) SentAt() time.Time  { return m.Timestamp }

// StreamChunk is one fragment of a message that is still being produced.
// Chunks share the MessageID of the full message that finalizes them.
type StreamChunk struct {
	Type      Type      `json:"type"`
	MessageID string    `json:"messageId"`
	Chunk     string    `json:"chunk"`
	ThreadID  string    `json:"threadId"`
	Timestamp time.Time `json:"timestamp"`
}

func (c StreamChunk) EnvelopeType() Type { return TypeStreamChunk }
func (c StreamChunk) Thread() string     { return c.ThreadID }
func (c StreamChunk) SentAt() time.Time  { return c.Timestamp }

// AgentStart announces that an agent began working in a thread.
type AgentStart struct {
	Type      Type      `json:"type"`
	AgentType string    `json:"agentType"`
	ThreadID  string    `json:"threadId"`
	AgentID   string    `json:"agentId"`
	Timestamp time.Time `json:"timestamp"`
}

func (a AgentStart) EnvelopeType() Type { return TypeAgentStart }
func (a AgentStart) Thread() string     { return a.ThreadID }
func (a AgentStart) SentAt() time.Time  { return a.Timestamp }

// AgentComplete announces that an agent finished working in a thread.
type AgentComplete struct {
	Type      Type      `json:"type"`
	AgentType string    `json:"agentType"`
	ThreadID  string    `json:"threadId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (a AgentComplete) EnvelopeType() Type { return TypeAgentComplete }
func (a AgentComplete) Thread() string     { return a.ThreadID }
func (a AgentComplete) SentAt() time.Time  { return a.Timestamp }

// AgentMessage is a chat message authored by an agent rather than the
// primary assistant.
type AgentMessage struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	AgentType string    `json:"agentType"`
	ThreadID  string    `json:"threadId"`
	Timestamp time.Time `json:"timestamp"`
}

func (a AgentMessage) EnvelopeType() Type { return TypeAgentMessage }
func (a AgentMessage) Thread() string     { return a.ThreadID }
func (a AgentMessage) SentAt() time.Time  { return a.Timestamp }

// ErrorEvent reports a server-side failure scoped to a thread.
type ErrorEvent struct {
	Type      Type      `json:"type"`
	Error     string    `json:"error"`
	ThreadID  string    `json:"threadId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ErrorEvent) EnvelopeType() Type { return TypeError }
func (e ErrorEvent) Thread() string     { return e.ThreadID }
func (e ErrorEvent) SentAt() time.Time  { return e.Timestamp }

var (
	_ Envelope = Message{}
	_ Envelope = StreamChunk{}
	_ Envelope = AgentStart{}
	_ Envelope = AgentComplete{}
	_ Envelope = AgentMessage{}
	_ Envelope = ErrorEvent{}
)
