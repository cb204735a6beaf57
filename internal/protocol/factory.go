package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Factory builds envelopes with an injectable clock and ID source so
// scripted traffic can be reproduced byte for byte.
type Factory struct {
	// Now supplies timestamps. Defaults to time.Now in UTC.
	Now func() time.Time
	// NewID supplies message and agent IDs. Defaults to random UUIDs.
	NewID func() string
}

func (f Factory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	// Web clients emit millisecond precision; match it so recorded and
	// replayed traffic compares equal.
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (f Factory) id() string {
	if f.NewID != nil {
		return f.NewID()
	}
	return uuid.NewString()
}

// Message builds a complete chat message.
func (f Factory) Message(threadID string, role Role, content string) Message {
	return Message{
		Type:      TypeMessage,
		ID:        f.id(),
		Content:   content,
		Role:      role,
		ThreadID:  threadID,
		Timestamp: f.now(),
	}
}

// MessageWithID builds a message with a caller-chosen ID, used to finalize
// a chunk stream under the ID the chunks were sent with.
func (f Factory) MessageWithID(id, threadID string, role Role, content string) Message {
	m := f.Message(threadID, role, content)
	m.ID = id
	return m
}

// StreamChunk builds one fragment of an in-flight message.
func (f Factory) StreamChunk(threadID, messageID, chunk string) StreamChunk {
	return StreamChunk{
		Type:      TypeStreamChunk,
		MessageID: messageID,
		Chunk:     chunk,
		ThreadID:  threadID,
		Timestamp: f.now(),
	}
}

// AgentStart builds an agent_start with a fresh agent ID.
func (f Factory) AgentStart(threadID, agentType string) AgentStart {
	return AgentStart{
		Type:      TypeAgentStart,
		AgentType: agentType,
		ThreadID:  threadID,
		AgentID:   f.id(),
		Timestamp: f.now(),
	}
}

// AgentComplete builds an agent_complete with the given status.
func (f Factory) AgentComplete(threadID, agentType, status string) AgentComplete {
	return AgentComplete{
		Type:      TypeAgentComplete,
		AgentType: agentType,
		ThreadID:  threadID,
		Status:    status,
		Timestamp: f.now(),
	}
}

// AgentMessage builds a chat message authored by an agent.
func (f Factory) AgentMessage(threadID, agentType string, role Role, content string) AgentMessage {
	return AgentMessage{
		Type:      TypeAgentMessage,
		ID:        f.id(),
		Content:   content,
		Role:      role,
		AgentType: agentType,
		ThreadID:  threadID,
		Timestamp: f.now(),
	}
}

// ErrorEvent builds a thread-scoped error envelope.
func (f Factory) ErrorEvent(threadID, message string) ErrorEvent {
	return ErrorEvent{
		Type:      TypeError,
		Error:     message,
		ThreadID:  threadID,
		Timestamp: f.now(),
	}
}

var defaultFactory Factory

// NewMessage builds a message with the default clock and ID source.
func NewMessage(threadID string, role Role, content string) Message {
	return defaultFactory.Message(threadID, role, content)
}

// NewStreamChunk builds a stream_chunk with the default clock.
func NewStreamChunk(threadID, messageID, chunk string) StreamChunk {
	return defaultFactory.StreamChunk(threadID, messageID, chunk)
}

// NewAgentStart builds an agent_start with the default clock and ID source.
func NewAgentStart(threadID, agentType string) AgentStart {
	return defaultFactory.AgentStart(threadID, agentType)
}

// NewAgentComplete builds an agent_complete with the default clock.
func NewAgentComplete(threadID, agentType, status string) AgentComplete {
	return defaultFactory.AgentComplete(threadID, agentType, status)
}

// NewAgentMessage builds an agent_message with the default clock and ID source.
func NewAgentMessage(threadID, agentType string, role Role, content string) AgentMessage {
	return defaultFactory.AgentMessage(threadID, agentType, role, content)
}

// NewErrorEvent builds an error envelope with the default clock.
func NewErrorEvent(threadID, message string) ErrorEvent {
	return defaultFactory.ErrorEvent(threadID, message)
}
