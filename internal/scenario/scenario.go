// Package scenario defines the YAML scenario files the harness runs:
// ordered send/expect/wait steps against a chat endpoint, plus the
// checkpoints that judge the resulting transcript.
package scenario

import (
	"fmt"
	"strings"
	"time"

	"rehearsal/internal/protocol"
	"rehearsal/internal/transcript"
)

// Scenario is one scripted conversation.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Script names the mock server script this scenario is written
	// against, so the toolkit can start a matching server when asked
	// to run self-contained.
	Script string `yaml:"script,omitempty"`

	// Thread the conversation runs on. Defaults to the scenario name.
	Thread string `yaml:"thread,omitempty"`

	// Token selects the credential fixture for the dial: valid,
	// expired, tampered, or none (the default).
	Token string `yaml:"token,omitempty"`

	Steps       []Step       `yaml:"steps"`
	Checkpoints []Checkpoint `yaml:"checkpoints,omitempty"`
}

// Step is one action in a scenario. Exactly one of its fields is set.
type Step struct {
	Send      *SendStep   `yaml:"send,omitempty"`
	Expect    *ExpectStep `yaml:"expect,omitempty"`
	Wait      string      `yaml:"wait,omitempty"`
	Reconnect bool        `yaml:"reconnect,omitempty"`
}

// SendStep writes one envelope, or raw bytes, to the connection.
type SendStep struct {
	Type      string `yaml:"type"`
	Content   string `yaml:"content,omitempty"`
	AgentType string `yaml:"agent_type,omitempty"`
	Status    string `yaml:"status,omitempty"`
	MessageID string `yaml:"message_id,omitempty"`
	Chunk     string `yaml:"chunk,omitempty"`
	Error     string `yaml:"error,omitempty"`
	Raw       string `yaml:"raw,omitempty"`
}

// ExpectStep waits for an envelope matching every constraint it sets.
// A type of "stream" waits for a full chunked message to finalize.
type ExpectStep struct {
	Type            string `yaml:"type"`
	Content         string `yaml:"content,omitempty"`
	ContentContains string `yaml:"content_contains,omitempty"`
	Role            string `yaml:"role,omitempty"`
	AgentType       string `yaml:"agent_type,omitempty"`
	Status          string `yaml:"status,omitempty"`
	Within          string `yaml:"within,omitempty"`
}

// Checkpoint is a post-run judgment on the transcript.
type Checkpoint struct {
	Name string `yaml:"name,omitempty"`
	Kind string `yaml:"kind"`

	// MinEntries applies to the min_entries kind.
	MinEntries int `yaml:"min_entries,omitempty"`
}

// Checkpoint kinds.
const (
	CheckThreadConsistent    = "thread_consistent"
	CheckTimestampsMonotonic = "timestamps_monotonic"
	CheckStreamsAssemble     = "streams_assemble"
	CheckAgentRunsTerminated = "agent_runs_terminated"
	CheckNoErrors            = "no_errors"
	CheckMinEntries          = "min_entries"
)

var checkpointKinds = map[string]bool{
	CheckThreadConsistent:    true,
	CheckTimestampsMonotonic: true,
	CheckStreamsAssemble:     true,
	CheckAgentRunsTerminated: true,
	CheckNoErrors:            true,
	CheckMinEntries:          true,
}

var sendTypes = map[string]bool{
	"message":        true,
	"stream_chunk":   true,
	"agent_start":    true,
	"agent_complete": true,
	"agent_message":  true,
	"error":          true,
	"raw":            true,
}

var expectTypes = map[string]bool{
	"message":        true,
	"stream_chunk":   true,
	"agent_start":    true,
	"agent_complete": true,
	"agent_message":  true,
	"error":          true,
	"stream":         true,
}

// Validate rejects scenarios the harness cannot run.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario has no name")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	switch s.Token {
	case "", "none", "valid", "expired", "tampered":
	default:
		return fmt.Errorf("scenario %q: unknown token fixture %q", s.Name, s.Token)
	}

	for i, step := range s.Steps {
		actions := 0
		if step.Send != nil {
			actions++
		}
		if step.Expect != nil {
			actions++
		}
		if step.Wait != "" {
			actions++
		}
		if step.Reconnect {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("scenario %q step %d: want exactly one of send, expect, wait, reconnect", s.Name, i+1)
		}

		if step.Send != nil && !sendTypes[step.Send.Type] {
			return fmt.Errorf("scenario %q step %d: unknown send type %q", s.Name, i+1, step.Send.Type)
		}
		if step.Expect != nil {
			if !expectTypes[step.Expect.Type] {
				return fmt.Errorf("scenario %q step %d: unknown expect type %q", s.Name, i+1, step.Expect.Type)
			}
			if step.Expect.Within != "" {
				if _, err := time.ParseDuration(step.Expect.Within); err != nil {
					return fmt.Errorf("scenario %q step %d: bad within: %w", s.Name, i+1, err)
				}
			}
		}
		if step.Wait != "" {
			if _, err := time.ParseDuration(step.Wait); err != nil {
				return fmt.Errorf("scenario %q step %d: bad wait: %w", s.Name, i+1, err)
			}
		}
	}

	for i, cp := range s.Checkpoints {
		if !checkpointKinds[cp.Kind] {
			return fmt.Errorf("scenario %q checkpoint %d: unknown kind %q", s.Name, i+1, cp.Kind)
		}
		if cp.Kind == CheckMinEntries && cp.MinEntries < 1 {
			return fmt.Errorf("scenario %q checkpoint %d: min_entries needs a positive bound", s.Name, i+1)
		}
	}
	return nil
}

// ThreadID returns the thread the scenario runs on.
func (s *Scenario) ThreadID() string {
	if s.Thread != "" {
		return s.Thread
	}
	return s.Name
}

// Label returns the checkpoint's display name.
func (cp Checkpoint) Label() string {
	if cp.Name != "" {
		return cp.Name
	}
	return cp.Kind
}

// Evaluate judges a finished transcript against the checkpoint.
func (cp Checkpoint) Evaluate(tr *transcript.Transcript, threadID string) error {
	switch cp.Kind {
	case CheckThreadConsistent:
		for _, e := range tr.All() {
			got := e.Envelope.Thread()
			if got == threadID {
				continue
			}
			if e.Envelope.EnvelopeType() == protocol.TypeError && got == "system" {
				continue
			}
			return fmt.Errorf("entry %d (%s) is on thread %q, want %q",
				e.Seq, e.Envelope.EnvelopeType(), got, threadID)
		}
	case CheckTimestampsMonotonic:
		last := make(map[string]transcript.Entry)
		for _, e := range tr.All() {
			if e.Direction != transcript.Received {
				continue
			}
			thread := e.Envelope.Thread()
			if prev, ok := last[thread]; ok && e.Envelope.SentAt().Before(prev.Envelope.SentAt()) {
				return fmt.Errorf("thread %q: entry %d timestamp precedes entry %d", thread, e.Seq, prev.Seq)
			}
			last[thread] = e
		}
	case CheckStreamsAssemble:
		ids := tr.StreamIDs()
		if len(ids) == 0 {
			return fmt.Errorf("no streams recorded")
		}
		for _, id := range ids {
			s := tr.AssembleStream(id)
			if !s.Finalized {
				return fmt.Errorf("stream %q never finalized after %d chunks", id, s.Chunks)
			}
			if s.Final.Content != s.Text {
				return fmt.Errorf("stream %q assembled %q but final message says %q", id, s.Text, s.Final.Content)
			}
		}
	case CheckAgentRunsTerminated:
		runs := tr.AgentRuns()
		if len(runs) == 0 {
			return fmt.Errorf("no agent runs recorded")
		}
		for _, run := range runs {
			if !run.Terminated {
				return fmt.Errorf("agent %s on thread %s never completed", run.AgentType, run.ThreadID)
			}
		}
	case CheckNoErrors:
		for _, e := range tr.ByType(protocol.TypeError) {
			if e.Direction == transcript.Received {
				errEnv := e.Envelope.(protocol.ErrorEvent)
				return fmt.Errorf("received error on thread %q: %s", errEnv.ThreadID, errEnv.Error)
			}
		}
	case CheckMinEntries:
		if got := tr.Len(); got < cp.MinEntries {
			return fmt.Errorf("transcript has %d entries, want at least %d", got, cp.MinEntries)
		}
	default:
		return fmt.Errorf("unknown checkpoint kind %q", cp.Kind)
	}
	return nil
}

// Expand substitutes ${name} references in s from vars. Unknown
// references and bare dollar signs pass through untouched.
func Expand(s string, vars map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			if end := strings.IndexByte(s[i+2:], '}'); end >= 0 {
				name := s[i+2 : i+2+end]
				if v, ok := vars[name]; ok {
					b.WriteString(v)
				} else {
					b.WriteString(s[i : i+3+end])
				}
				i += end + 3
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
