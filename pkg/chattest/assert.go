package chattest

import (
	"testing"

	"rehearsal/internal/protocol"
	"rehearsal/internal/transcript"
)

// RequireThreadConsistent fails the test if any recorded envelope sits
// on a different thread than threadID. System-thread error envelopes
// are exempt; they are how the server reports problems it cannot pin
// to a conversation.
func RequireThreadConsistent(t testing.TB, tr *transcript.Transcript, threadID string) {
	t.Helper()
	for _, e := range tr.All() {
		got := e.Envelope.Thread()
		if got == threadID {
			continue
		}
		if e.Envelope.EnvelopeType() == protocol.TypeError && got == "system" {
			continue
		}
		t.Fatalf("entry %d (%s, %s) is on thread %q, want %q",
			e.Seq, e.Direction, e.Envelope.EnvelopeType(), got, threadID)
	}
}

// RequireTimestampsMonotonic fails the test if received envelopes on any
// thread carry timestamps that go backwards.
func RequireTimestampsMonotonic(t testing.TB, tr *transcript.Transcript) {
	t.Helper()
	last := make(map[string]transcript.Entry)
	for _, e := range tr.All() {
		if e.Direction != transcript.Received {
			continue
		}
		thread := e.Envelope.Thread()
		if prev, ok := last[thread]; ok {
			if e.Envelope.SentAt().Before(prev.Envelope.SentAt()) {
				t.Fatalf("thread %q: entry %d (%s) timestamp %s precedes entry %d timestamp %s",
					thread, e.Seq, e.Envelope.EnvelopeType(),
					e.Envelope.SentAt().Format("15:04:05.000"),
					prev.Seq, prev.Envelope.SentAt().Format("15:04:05.000"))
			}
		}
		last[thread] = e
	}
}

// RequireStreamAssembles fails the test unless messageID's chunks were
// finalized by a full message whose content equals their concatenation.
func RequireStreamAssembles(t testing.TB, tr *transcript.Transcript, messageID string) {
	t.Helper()
	s := tr.AssembleStream(messageID)
	if s.Chunks == 0 {
		t.Fatalf("no chunks recorded for message %q", messageID)
	}
	if !s.Finalized {
		t.Fatalf("stream %q never finalized: %d chunks, assembled %q", messageID, s.Chunks, s.Text)
	}
	if s.Final.Content != s.Text {
		t.Fatalf("stream %q assembled %q but final message says %q", messageID, s.Text, s.Final.Content)
	}
}

// RequireAgentRunsTerminated fails the test if any agent_start never got
// its agent_complete.
func RequireAgentRunsTerminated(t testing.TB, tr *transcript.Transcript) {
	t.Helper()
	for _, run := range tr.AgentRuns() {
		if !run.Terminated {
			t.Fatalf("agent %s on thread %s started at %s and never completed",
				run.AgentType, run.ThreadID, run.StartedAt.Format("15:04:05.000"))
		}
	}
}

// RequireNoErrors fails the test if the transcript holds any received
// error envelopes.
func RequireNoErrors(t testing.TB, tr *transcript.Transcript) {
	t.Helper()
	for _, e := range tr.ByType(protocol.TypeError) {
		if e.Direction != transcript.Received {
			continue
		}
		errEnv := e.Envelope.(protocol.ErrorEvent)
		t.Fatalf("received error on thread %q: %s", errEnv.ThreadID, errEnv.Error)
	}
}
