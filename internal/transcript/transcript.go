// Package transcript records the envelopes a connection sent and received,
// in order, and answers the questions assertions ask of that record: which
// agent runs completed, whether a chunked message assembled into its final
// form, what happened on a given thread.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"rehearsal/internal/protocol"
)

// Direction says which side of the connection produced an entry.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Entry is one recorded envelope. Seq is assigned on append and is unique
// within a transcript.
type Entry struct {
	Seq       int
	Direction Direction
	At        time.Time
	Envelope  protocol.Envelope
}

type entryJSON struct {
	Seq       int             `json:"seq"`
	Direction Direction       `json:"direction"`
	At        time.Time       `json:"at"`
	Envelope  json.RawMessage `json:"envelope"`
}

// MarshalJSON writes the envelope in its wire form, type discriminator
// included, so a saved transcript replays through protocol.Decode.
func (e Entry) MarshalJSON() ([]byte, error) {
	wire, err := json.Marshal(e.Envelope)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryJSON{e.Seq, e.Direction, e.At, wire})
}

// UnmarshalJSON restores an entry written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	env, err := protocol.Decode(raw.Envelope)
	if err != nil {
		return fmt.Errorf("entry %d: %w", raw.Seq, err)
	}
	e.Seq = raw.Seq
	e.Direction = raw.Direction
	e.At = raw.At
	e.Envelope = env
	return nil
}

// Transcript is an append-only, concurrency-safe record of envelopes.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

func New() *Transcript {
	return &Transcript{}
}

// Append records an envelope and returns the stored entry.
func (t *Transcript) Append(d Direction, at time.Time, env protocol.Envelope) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := Entry{
		Seq:       len(t.entries),
		Direction: d,
		At:        at,
		Envelope:  env,
	}
	t.entries = append(t.entries, e)
	return e
}

// Len returns the number of recorded entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// All returns a copy of every entry in append order.
func (t *Transcript) All() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ByThread returns the entries whose envelope belongs to threadID.
func (t *Transcript) ByThread(threadID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if e.Envelope.Thread() == threadID {
			out = append(out, e)
		}
	}
	return out
}

// ByType returns the entries of the given envelope type.
func (t *Transcript) ByType(pt protocol.Type) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if e.Envelope.EnvelopeType() == pt {
			out = append(out, e)
		}
	}
	return out
}

// AgentRun is one agent lifecycle reconstructed from the transcript:
// an agent_start, the agent_messages under it, and the agent_complete
// that closed it. Runs without a complete are reported with Terminated
// false so assertions can flag them.
type AgentRun struct {
	AgentType   string
	ThreadID    string
	AgentID     string
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
	Messages    int
	Terminated  bool
}

// Duration returns how long the run took, zero while unterminated.
func (r AgentRun) Duration() time.Duration {
	if !r.Terminated {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// AgentRuns pairs agent_start with agent_complete envelopes. The wire
// carries no run identifier on completion, so pairing is by agent type
// and thread: a complete closes the oldest open run with the same pair.
func (t *Transcript) AgentRuns() []AgentRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type key struct{ agentType, threadID string }
	var runs []AgentRun
	open := make(map[key][]int)

	for _, e := range t.entries {
		switch env := e.Envelope.(type) {
		case protocol.AgentStart:
			k := key{env.AgentType, env.ThreadID}
			open[k] = append(open[k], len(runs))
			runs = append(runs, AgentRun{
				AgentType: env.AgentType,
				ThreadID:  env.ThreadID,
				AgentID:   env.AgentID,
				StartedAt: env.Timestamp,
			})
		case protocol.AgentMessage:
			k := key{env.AgentType, env.ThreadID}
			if idx := open[k]; len(idx) > 0 {
				runs[idx[0]].Messages++
			}
		case protocol.AgentComplete:
			k := key{env.AgentType, env.ThreadID}
			idx := open[k]
			if len(idx) == 0 {
				// Complete without a start: synthesize a run so the
				// anomaly is visible rather than silently dropped.
				runs = append(runs, AgentRun{
					AgentType:   env.AgentType,
					ThreadID:    env.ThreadID,
					Status:      env.Status,
					CompletedAt: env.Timestamp,
					Terminated:  true,
				})
				continue
			}
			r := &runs[idx[0]]
			r.Status = env.Status
			r.CompletedAt = env.Timestamp
			r.Terminated = true
			open[k] = idx[1:]
		}
	}
	return runs
}

// Stream is the reconstruction of one chunked message.
type Stream struct {
	MessageID string
	ThreadID  string
	Chunks    int
	Text      string
	Finalized bool
	Final     protocol.Message
}

// AssembleStream concatenates the chunks for messageID in arrival order.
// The stream is finalized when a full message with the same ID follows;
// its content is expected to equal the concatenation, but AssembleStream
// reports what it saw and leaves judging to the caller.
func (t *Transcript) AssembleStream(messageID string) Stream {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stream{MessageID: messageID}
	for _, e := range t.entries {
		switch env := e.Envelope.(type) {
		case protocol.StreamChunk:
			if env.MessageID != messageID {
				continue
			}
			s.Chunks++
			s.Text += env.Chunk
			s.ThreadID = env.ThreadID
		case protocol.Message:
			if env.ID != messageID {
				continue
			}
			s.Finalized = true
			s.Final = env
			if s.ThreadID == "" {
				s.ThreadID = env.ThreadID
			}
		}
	}
	return s
}

// StreamIDs returns the distinct message IDs seen in stream chunks,
// in first-appearance order.
func (t *Transcript) StreamIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, e := range t.entries {
		c, ok := e.Envelope.(protocol.StreamChunk)
		if !ok || seen[c.MessageID] {
			continue
		}
		seen[c.MessageID] = true
		out = append(out, c.MessageID)
	}
	return out
}

// WriteJSON writes the transcript as an indented JSON array.
func (t *Transcript) WriteJSON(w io.Writer) error {
	entries := t.All()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
