package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rehearsal/internal/protocol"
)

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testFactory() protocol.Factory {
	tick, n := testClock, 0
	return protocol.Factory{
		Now: func() time.Time {
			tick = tick.Add(50 * time.Millisecond)
			return tick
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
}

func TestAppendAssignsSeq(t *testing.T) {
	f := testFactory()
	tr := New()

	for i := 0; i < 3; i++ {
		e := tr.Append(Sent, testClock, f.Message("t-1", protocol.RoleUser, "hi"))
		if e.Seq != i {
			t.Fatalf("entry %d got seq %d", i, e.Seq)
		}
	}
	if tr.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tr.Len())
	}
}

func TestByThreadAndByType(t *testing.T) {
	f := testFactory()
	tr := New()
	tr.Append(Sent, testClock, f.Message("t-1", protocol.RoleUser, "one"))
	tr.Append(Received, testClock, f.Message("t-2", protocol.RoleAssistant, "two"))
	tr.Append(Received, testClock, f.ErrorEvent("t-1", "boom"))

	if got := tr.ByThread("t-1"); len(got) != 2 {
		t.Fatalf("ByThread(t-1) returned %d entries, want 2", len(got))
	}
	if got := tr.ByType(protocol.TypeError); len(got) != 1 {
		t.Fatalf("ByType(error) returned %d entries, want 1", len(got))
	}
	if got := tr.ByType(protocol.TypeStreamChunk); len(got) != 0 {
		t.Fatalf("ByType(stream_chunk) returned %d entries, want 0", len(got))
	}
}

func TestAgentRunsPairing(t *testing.T) {
	f := testFactory()
	tr := New()

	// Two overlapping runs of the same agent type on one thread, plus an
	// agent on another thread that never completes.
	tr.Append(Received, testClock, f.AgentStart("t-1", "researcher"))
	tr.Append(Received, testClock, f.AgentStart("t-1", "researcher"))
	tr.Append(Received, testClock, f.AgentMessage("t-1", "researcher", protocol.RoleAssistant, "found it"))
	tr.Append(Received, testClock, f.AgentComplete("t-1", "researcher", protocol.StatusCompleted))
	tr.Append(Received, testClock, f.AgentStart("t-2", "planner"))
	tr.Append(Received, testClock, f.AgentComplete("t-1", "researcher", protocol.StatusFailed))

	runs := tr.AgentRuns()
	if len(runs) != 3 {
		t.Fatalf("AgentRuns() returned %d runs, want 3", len(runs))
	}

	// Oldest open run closes first.
	if !runs[0].Terminated || runs[0].Status != protocol.StatusCompleted {
		t.Fatalf("first run = %+v, want completed", runs[0])
	}
	if runs[0].Messages != 1 {
		t.Fatalf("first run saw %d messages, want 1", runs[0].Messages)
	}
	if !runs[1].Terminated || runs[1].Status != protocol.StatusFailed {
		t.Fatalf("second run = %+v, want failed", runs[1])
	}
	if runs[2].AgentType != "planner" || runs[2].Terminated {
		t.Fatalf("third run = %+v, want unterminated planner", runs[2])
	}
	if runs[0].Duration() <= 0 {
		t.Fatalf("completed run has duration %v", runs[0].Duration())
	}
	if runs[2].Duration() != 0 {
		t.Fatalf("unterminated run has nonzero duration %v", runs[2].Duration())
	}
}

func TestAgentRunsCompleteWithoutStart(t *testing.T) {
	f := testFactory()
	tr := New()
	tr.Append(Received, testClock, f.AgentComplete("t-9", "ghost", protocol.StatusCompleted))

	runs := tr.AgentRuns()
	if len(runs) != 1 {
		t.Fatalf("AgentRuns() returned %d runs, want 1", len(runs))
	}
	if runs[0].AgentType != "ghost" || !runs[0].Terminated || !runs[0].StartedAt.IsZero() {
		t.Fatalf("synthesized run = %+v", runs[0])
	}
}

func TestAssembleStream(t *testing.T) {
	f := testFactory()
	tr := New()
	tr.Append(Received, testClock, f.StreamChunk("t-1", "m-1", "Hel"))
	tr.Append(Received, testClock, f.StreamChunk("t-1", "m-1", "lo "))
	tr.Append(Received, testClock, f.StreamChunk("t-1", "m-2", "other"))
	tr.Append(Received, testClock, f.StreamChunk("t-1", "m-1", "world"))
	tr.Append(Received, testClock, f.MessageWithID("m-1", "t-1", protocol.RoleAssistant, "Hello world"))

	s := tr.AssembleStream("m-1")
	if s.Text != "Hello world" || s.Chunks != 3 {
		t.Fatalf("stream m-1 = %+v", s)
	}
	if !s.Finalized || s.Final.Content != s.Text {
		t.Fatalf("stream m-1 not finalized correctly: %+v", s)
	}

	s2 := tr.AssembleStream("m-2")
	if s2.Finalized || s2.Text != "other" {
		t.Fatalf("stream m-2 = %+v", s2)
	}

	wantIDs := []string{"m-1", "m-2"}
	if diff := cmp.Diff(wantIDs, tr.StreamIDs()); diff != "" {
		t.Fatalf("StreamIDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestTranscriptJSONRoundTrip(t *testing.T) {
	f := testFactory()
	tr := New()
	tr.Append(Sent, testClock.Add(time.Second), f.Message("t-1", protocol.RoleUser, "hi"))
	tr.Append(Received, testClock.Add(2*time.Second), f.StreamChunk("t-1", "m-1", "he"))
	tr.Append(Received, testClock.Add(3*time.Second), f.ErrorEvent("t-1", "boom"))

	var buf bytes.Buffer
	if err := tr.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var restored []Entry
	if err := json.Unmarshal(buf.Bytes(), &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(tr.All(), restored); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentAppend(t *testing.T) {
	f := protocol.Factory{}
	tr := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				tr.Append(Sent, time.Now(), f.Message("t-1", protocol.RoleUser, "x"))
			}
		}()
	}
	wg.Wait()

	if tr.Len() != 200 {
		t.Fatalf("Len() = %d, want 200", tr.Len())
	}
	seen := make(map[int]bool)
	for _, e := range tr.All() {
		if seen[e.Seq] {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
}
