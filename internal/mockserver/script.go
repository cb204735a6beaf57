package mockserver

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"rehearsal/internal/fixtures"
	"rehearsal/internal/protocol"
)

// Emitter queues one envelope for delivery to the client.
type Emitter func(protocol.Envelope) error

// Script decides how the server answers inbound traffic. React is called
// once per decoded envelope; everything the script emits goes back to the
// connection that sent the envelope.
type Script interface {
	Name() string
	React(ctx context.Context, in protocol.Envelope, emit Emitter) error
}

// ScriptConfig carries the knobs shared by the built-in scripts.
type ScriptConfig struct {
	// Factory stamps IDs and timestamps on emitted envelopes.
	Factory protocol.Factory

	// Locale selects the translation table for server-authored strings.
	Locale string

	// ChunkDelay spaces out stream chunks.
	ChunkDelay time.Duration

	// FailureRate is the flaky script's per-message failure probability.
	FailureRate float64

	// Seed makes the flaky script's failures reproducible.
	Seed int64
}

// NewScript builds a built-in script by name: echo, streamer, agent,
// flaky, or silent.
func NewScript(name string, cfg ScriptConfig) (Script, error) {
	switch name {
	case "echo":
		return &EchoScript{factory: cfg.Factory}, nil
	case "streamer":
		return &StreamerScript{factory: cfg.Factory, delay: cfg.ChunkDelay}, nil
	case "agent":
		return &AgentScript{factory: cfg.Factory, locale: cfg.Locale}, nil
	case "flaky":
		return &FlakyScript{
			inner:   &EchoScript{factory: cfg.Factory},
			factory: cfg.Factory,
			locale:  cfg.Locale,
			rate:    cfg.FailureRate,
			rng:     rand.New(rand.NewSource(cfg.Seed)),
		}, nil
	case "silent":
		return SilentScript{}, nil
	default:
		return nil, fmt.Errorf("unknown script %q", name)
	}
}

// EchoScript answers every user message with an assistant message
// carrying the same content on the same thread.
type EchoScript struct {
	factory protocol.Factory
}

func (s *EchoScript) Name() string { return "echo" }

func (s *EchoScript) React(ctx context.Context, in protocol.Envelope, emit Emitter) error {
	m, ok := in.(protocol.Message)
	if !ok {
		return nil
	}
	return emit(s.factory.Message(m.ThreadID, protocol.RoleAssistant, m.Content))
}

// StreamerScript answers a user message by streaming the content back
// word by word, then finalizing with the complete message under the
// same message ID.
type StreamerScript struct {
	factory protocol.Factory
	delay   time.Duration
}

func (s *StreamerScript) Name() string { return "streamer" }

func (s *StreamerScript) React(ctx context.Context, in protocol.Envelope, emit Emitter) error {
	m, ok := in.(protocol.Message)
	if !ok {
		return nil
	}

	final := s.factory.Message(m.ThreadID, protocol.RoleAssistant, m.Content)
	words := strings.SplitAfter(m.Content, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if err := emit(s.factory.StreamChunk(m.ThreadID, final.ID, w)); err != nil {
			return err
		}
		if s.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.delay):
			}
		}
	}
	return emit(final)
}

// AgentScript plays out one full agent lifecycle per user message:
// agent_start, a thinking agent_message, a result agent_message, then
// agent_complete with status completed.
type AgentScript struct {
	factory protocol.Factory
	locale  string
}

func (s *AgentScript) Name() string { return "agent" }

func (s *AgentScript) React(ctx context.Context, in protocol.Envelope, emit Emitter) error {
	m, ok := in.(protocol.Message)
	if !ok {
		return nil
	}

	const agentType = "researcher"
	thinking, _ := fixtures.Lookup(s.locale, "agent.thinking")
	done, _ := fixtures.Lookup(s.locale, "agent.done")

	if err := emit(s.factory.AgentStart(m.ThreadID, agentType)); err != nil {
		return err
	}
	if err := emit(s.factory.AgentMessage(m.ThreadID, agentType, protocol.RoleAssistant, thinking)); err != nil {
		return err
	}
	if err := emit(s.factory.AgentMessage(m.ThreadID, agentType, protocol.RoleAssistant, done)); err != nil {
		return err
	}
	return emit(s.factory.AgentComplete(m.ThreadID, agentType, protocol.StatusCompleted))
}

// FlakyScript wraps another script and fails a fraction of messages with
// a thread-scoped error envelope instead of the wrapped reply. Failures
// follow the seeded source, so a given seed always fails the same turns.
type FlakyScript struct {
	inner   Script
	factory protocol.Factory
	locale  string
	rate    float64

	mu  sync.Mutex
	rng *rand.Rand
}

func (s *FlakyScript) Name() string { return "flaky" }

func (s *FlakyScript) React(ctx context.Context, in protocol.Envelope, emit Emitter) error {
	m, ok := in.(protocol.Message)
	if !ok {
		return nil
	}

	s.mu.Lock()
	failed := s.rng.Float64() < s.rate
	s.mu.Unlock()

	if failed {
		msg, _ := fixtures.Lookup(s.locale, "error.internal")
		return emit(s.factory.ErrorEvent(m.ThreadID, msg))
	}
	return s.inner.React(ctx, in, emit)
}

// SilentScript never answers. It exists so timeout handling has
// something honest to run against.
type SilentScript struct{}

func (SilentScript) Name() string { return "silent" }

func (SilentScript) React(context.Context, protocol.Envelope, Emitter) error {
	return nil
}

var (
	_ Script = (*EchoScript)(nil)
	_ Script = (*StreamerScript)(nil)
	_ Script = (*AgentScript)(nil)
	_ Script = (*FlakyScript)(nil)
	_ Script = SilentScript{}
)
