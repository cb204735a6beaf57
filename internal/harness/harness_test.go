package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rehearsal/internal/config"
	"rehearsal/internal/mockserver"
	"rehearsal/internal/transcript"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.StreamChunkDelay = "1ms"
	cfg.Scenarios.Dir = ""
	cfg.Harness.Timeout = "5s"
	cfg.Harness.BackoffBase = "50ms"
	cfg.Harness.BackoffMax = "200ms"
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, script string, mutate func(*config.ServerConfig)) *mockserver.Server {
	t.Helper()
	sc := cfg.Server
	sc.Script = script
	if mutate != nil {
		mutate(&sc)
	}
	srv, err := mockserver.New(sc)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func newHarness(t *testing.T, target string, cfg *config.Config, out *bytes.Buffer, format string) *Harness {
	t.Helper()
	h, err := New(target, cfg, out, format, nil)
	require.NoError(t, err)
	return h
}

func TestRunScenarioGoldenPath(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "echo", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	res, err := h.RunScenario(context.Background(), "golden-path")
	require.NoError(t, err)
	require.True(t, res.Passed, "failure reasons: %v", res.FailureReasons)

	require.Len(t, res.Checkpoints, 4)
	for _, cp := range res.Checkpoints {
		assert.True(t, cp.Passed, "checkpoint %s: %s", cp.Name, cp.Reason)
	}

	m := res.Metrics
	assert.Equal(t, 2, m.EnvelopesSent)
	assert.Equal(t, 2, m.EnvelopesReceived)
	assert.Equal(t, 2, m.RoundTrips)
	assert.Greater(t, m.RTTP50, time.Duration(0))
	assert.GreaterOrEqual(t, m.RTTP99, m.RTTP50)

	text := out.String()
	assert.Contains(t, text, "golden-path")
	assert.Contains(t, text, "PASSED")
}

func TestRunScenarioStreaming(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "streamer", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	res, err := h.RunScenario(context.Background(), "streaming")
	require.NoError(t, err)
	require.True(t, res.Passed, "failure reasons: %v", res.FailureReasons)

	ids := res.Transcript.StreamIDs()
	require.Len(t, ids, 1)
	st := res.Transcript.AssembleStream(ids[0])
	assert.True(t, st.Finalized)

	assert.Equal(t, 1, res.Metrics.StreamsAssembled)
	assert.Greater(t, res.Metrics.AssemblyMax, time.Duration(0))
}

func TestRunScenarioAgentLifecycle(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "agent", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	res, err := h.RunScenario(context.Background(), "agent-lifecycle")
	require.NoError(t, err)
	require.True(t, res.Passed, "failure reasons: %v", res.FailureReasons)

	runs := res.Transcript.AgentRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, "researcher", runs[0].AgentType)
	assert.False(t, runs[0].CompletedAt.IsZero())
	assert.Equal(t, 1, res.Metrics.AgentRuns)
}

func TestRunScenarioErrorHandling(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "echo", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	res, err := h.RunScenario(context.Background(), "error-handling")
	require.NoError(t, err)
	require.True(t, res.Passed, "failure reasons: %v", res.FailureReasons)
}

func TestRunScenarioReconnect(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "echo", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	res, err := h.RunScenario(context.Background(), "reconnect")
	require.NoError(t, err)
	require.True(t, res.Passed, "failure reasons: %v", res.FailureReasons)

	assert.Equal(t, 1, res.Metrics.Reconnects)
	assert.Equal(t, 4, res.Transcript.Len())
}

func TestRunScenarioUnknown(t *testing.T) {
	cfg := testConfig()
	var out bytes.Buffer
	h := newHarness(t, "ws://127.0.0.1:1/ws", cfg, &out, "console")

	_, err := h.RunScenario(context.Background(), "no-such-thing")
	require.ErrorContains(t, err, "not found")
}

func TestRunScenarioFailureIsAResult(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "echo", nil)

	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", `
name: wrong-expectation
script: echo
steps:
  - send:
      type: message
      content: hello
  - expect:
      type: agent_start
      within: 200ms
checkpoints:
  - kind: no_errors
`)
	cfg.Scenarios.Dir = dir

	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	res, err := h.RunScenario(context.Background(), "wrong-expectation")
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.NotEmpty(t, res.FailureReasons)
	assert.Contains(t, res.FailureReasons[0], "step 2")
	assert.Contains(t, out.String(), "FAILED")
}

func TestRunScenarioAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Harness.Timeout = "1s"
	srv := startServer(t, cfg, "echo", func(sc *config.ServerConfig) {
		sc.AuthRequired = true
	})

	dir := t.TempDir()
	writeScenario(t, dir, "valid.yaml", `
name: auth-valid
script: echo
token: valid
steps:
  - send:
      type: message
      content: hello from ${user.email}
  - expect:
      type: message
      content_contains: ${user.email}
checkpoints:
  - kind: no_errors
`)
	writeScenario(t, dir, "expired.yaml", `
name: auth-expired
script: echo
token: expired
steps:
  - send:
      type: message
      content: never sent
`)
	cfg.Scenarios.Dir = dir

	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	t.Run("valid token connects", func(t *testing.T) {
		res, err := h.RunScenario(context.Background(), "auth-valid")
		require.NoError(t, err)
		require.True(t, res.Passed, "failure reasons: %v", res.FailureReasons)
	})

	t.Run("expired token is turned away", func(t *testing.T) {
		res, err := h.RunScenario(context.Background(), "auth-expired")
		require.NoError(t, err)
		require.False(t, res.Passed)
		require.NotEmpty(t, res.FailureReasons)
		assert.Contains(t, res.FailureReasons[0], "dial:")
	})
}

func TestScenarioDirOverridesBuiltin(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	writeScenario(t, dir, "golden.yaml", `
name: golden-path
description: replaced by the local file
script: echo
steps:
  - send:
      type: message
      content: just one turn
  - expect:
      type: message
      content: just one turn
`)
	cfg.Scenarios.Dir = dir

	var out bytes.Buffer
	h := newHarness(t, "ws://127.0.0.1:1/ws", cfg, &out, "console")

	sc, ok := h.Scenario("golden-path")
	require.True(t, ok)
	assert.Equal(t, "replaced by the local file", sc.Description)
	assert.Len(t, sc.Steps, 2)

	names := h.ListScenarios()
	assert.Contains(t, names, "golden-path")
	assert.Contains(t, names, "streaming")
	assert.True(t, sort.StringsAreSorted(names))
}

func TestMissingScenarioDirIsFine(t *testing.T) {
	cfg := testConfig()
	cfg.Scenarios.Dir = filepath.Join(t.TempDir(), "nope")

	var out bytes.Buffer
	h := newHarness(t, "ws://127.0.0.1:1/ws", cfg, &out, "console")
	assert.Len(t, h.ListScenarios(), 5)
}

func TestRunAllReportsSummary(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "echo", nil)

	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", `
name: echo-a
script: echo
steps:
  - send:
      type: message
      content: one
  - expect:
      type: message
      content: one
`)
	writeScenario(t, dir, "b.yaml", `
name: echo-b
script: echo
steps:
  - send:
      type: message
      content: two
  - expect:
      type: agent_start
      within: 150ms
`)
	cfg.Scenarios.Dir = dir

	var out bytes.Buffer
	h, err := New(srv.WSURL(), cfg, &out, "console", nil)
	require.NoError(t, err)
	// Trim to just the two local scenarios so the sweep does not drag
	// the builtins through a server running the wrong script.
	for _, name := range h.ListScenarios() {
		if name != "echo-a" && name != "echo-b" {
			delete(h.scenarios, name)
		}
	}

	results, err := h.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)

	text := out.String()
	assert.Contains(t, text, "Total: 2 | Passed: 1 | Failed: 1")
}

func TestRunLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Harness.Clients = 3
	srv := startServer(t, cfg, "echo", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	lr, err := h.RunLoad(context.Background(), "golden-path")
	require.NoError(t, err)
	assert.Equal(t, 3, lr.Clients)
	assert.Equal(t, 3, lr.Passed)
	assert.Equal(t, 0, lr.Failed)

	assert.Equal(t, 6, lr.Metrics.EnvelopesSent)
	assert.Equal(t, 6, lr.Metrics.EnvelopesReceived)
	assert.Equal(t, 6, lr.Metrics.RoundTrips)

	threads := map[string]bool{}
	for _, res := range lr.Results {
		threads[res.Thread] = true
	}
	assert.Len(t, threads, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.Eventually(t, func() bool { return srv.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestReporterJSON(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "echo", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "json")

	res, err := h.RunScenario(context.Background(), "golden-path")
	require.NoError(t, err)
	require.True(t, res.Passed)

	var decoded struct {
		Scenario string `json:"scenario"`
		Passed   bool   `json:"passed"`
		Metrics  struct {
			EnvelopesSent int `json:"envelopesSent"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "golden-path", decoded.Scenario)
	assert.True(t, decoded.Passed)
	assert.Equal(t, 2, decoded.Metrics.EnvelopesSent)
}

func TestRunResultTranscriptSurvivesFold(t *testing.T) {
	cfg := testConfig()
	srv := startServer(t, cfg, "echo", nil)
	var out bytes.Buffer
	h := newHarness(t, srv.WSURL(), cfg, &out, "console")

	res, err := h.RunScenario(context.Background(), "golden-path")
	require.NoError(t, err)

	entries := res.Transcript.All()
	require.Len(t, entries, 4)
	assert.Equal(t, transcript.Sent, entries[0].Direction)
	assert.Equal(t, transcript.Received, entries[1].Direction)
	for i, e := range entries {
		assert.Equal(t, i, e.Seq)
	}
}

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 10)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}

	tests := []struct {
		p    int
		want time.Duration
	}{
		{50, 5 * time.Millisecond},
		{95, 10 * time.Millisecond},
		{99, 10 * time.Millisecond},
		{100, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := percentile(samples, tt.p); got != tt.want {
			t.Errorf("percentile(%d) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if got := percentile([]time.Duration{7 * time.Millisecond}, 99); got != 7*time.Millisecond {
		t.Errorf("single sample percentile = %v, want 7ms", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

func TestSummarize(t *testing.T) {
	mean, max := summarize([]time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 6 * time.Millisecond})
	if mean != 4*time.Millisecond {
		t.Errorf("mean = %v, want 4ms", mean)
	}
	if max != 6*time.Millisecond {
		t.Errorf("max = %v, want 6ms", max)
	}

	mean, max = summarize(nil)
	if mean != 0 || max != 0 {
		t.Errorf("empty summarize = %v, %v, want zeros", mean, max)
	}
}

func writeScenario(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}
