package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors. Decode failures wrap one of these so callers can
// distinguish garbage bytes from unknown-but-well-formed traffic.
var (
	ErrMalformed   = errors.New("protocol: malformed envelope")
	ErrMissingType = errors.New("protocol: envelope has no type field")
	ErrUnknownType = errors.New("protocol: unknown envelope type")
)

// Encode validates and marshals an envelope.
func Encode(e Envelope) ([]byte, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", e.EnvelopeType(), err)
	}
	return data, nil
}

// Decode parses raw bytes into a typed envelope. It probes the type
// discriminator first, then unmarshals into the matching struct. Decode is
// deliberately lax about field values (see Validate): a receiver should be
// able to inspect slightly-wrong traffic instead of dropping it.
func Decode(data []byte) (Envelope, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.Type == "" {
		return nil, ErrMissingType
	}

	var (
		env Envelope
		err error
	)
	switch probe.Type {
	case TypeMessage:
		var m Message
		err = json.Unmarshal(data, &m)
		env = m
	case TypeStreamChunk:
		var c StreamChunk
		err = json.Unmarshal(data, &c)
		env = c
	case TypeAgentStart:
		var a AgentStart
		err = json.Unmarshal(data, &a)
		env = a
	case TypeAgentComplete:
		var a AgentComplete
		err = json.Unmarshal(data, &a)
		env = a
	case TypeAgentMessage:
		var a AgentMessage
		err = json.Unmarshal(data, &a)
		env = a
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		env = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}
