package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("protocol: invalid envelope")

func invalidf(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, t, fmt.Sprintf(format, args...))
}

// Validate checks the per-type required fields. Builders always produce
// envelopes that pass; Decode deliberately does not call this so that
// assertions can inspect wrong-but-parseable traffic.
func Validate(e Envelope) error {
	if e == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	t := e.EnvelopeType()
	if e.Thread() == "" {
		return invalidf(t, "threadId: must not be empty")
	}
	if e.SentAt().IsZero() {
		return invalidf(t, "timestamp: must not be zero")
	}

	switch v := e.(type) {
	case Message:
		if v.Type != TypeMessage {
			return invalidf(t, "type: got %q", v.Type)
		}
		return validateChat(t, v.ID, v.Content, v.Role)
	case StreamChunk:
		if v.Type != TypeStreamChunk {
			return invalidf(t, "type: got %q", v.Type)
		}
		if v.MessageID == "" {
			return invalidf(t, "messageId: must not be empty")
		}
		// An empty chunk is valid: producers use it as a stream keepalive.
		return nil
	case AgentStart:
		if v.Type != TypeAgentStart {
			return invalidf(t, "type: got %q", v.Type)
		}
		if v.AgentType == "" {
			return invalidf(t, "agentType: must not be empty")
		}
		if v.AgentID == "" {
			return invalidf(t, "agentId: must not be empty")
		}
		return nil
	case AgentComplete:
		if v.Type != TypeAgentComplete {
			return invalidf(t, "type: got %q", v.Type)
		}
		if v.AgentType == "" {
			return invalidf(t, "agentType: must not be empty")
		}
		if v.Status != StatusCompleted && v.Status != StatusFailed {
			return invalidf(t, "status: got %q, want %q or %q", v.Status, StatusCompleted, StatusFailed)
		}
		return nil
	case AgentMessage:
		if v.Type != TypeAgentMessage {
			return invalidf(t, "type: got %q", v.Type)
		}
		if v.AgentType == "" {
			return invalidf(t, "agentType: must not be empty")
		}
		return validateChat(t, v.ID, v.Content, v.Role)
	case ErrorEvent:
		if v.Type != TypeError {
			return invalidf(t, "type: got %q", v.Type)
		}
		if v.Error == "" {
			return invalidf(t, "error: must not be empty")
		}
		return nil
	default:
		return fmt.Errorf("%w: unhandled envelope %T", ErrInvalid, e)
	}
}

// validateChat holds the checks shared by message and agent_message.
func validateChat(t Type, id, content string, role Role) error {
	if id == "" {
		return invalidf(t, "id: must not be empty")
	}
	if content == "" {
		return invalidf(t, "content: must not be empty")
	}
	if !validRole(role) {
		return invalidf(t, "role: got %q", role)
	}
	return nil
}

func validRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
