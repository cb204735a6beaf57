package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rehearsal/internal/config"
	"rehearsal/internal/fixtures"
	"rehearsal/internal/protocol"
	"rehearsal/internal/scenario"
	"rehearsal/internal/transcript"
	"rehearsal/pkg/chattest"
)

// runner drives a single connection through one scenario. Each load
// client gets its own runner; only the Collector is shared.
type runner struct {
	sc      *scenario.Scenario
	target  string
	cfg     *config.Config
	logger  *zap.Logger
	metrics *Collector

	user   fixtures.User
	thread string
	vars   map[string]string

	client *chattest.Client

	// record is the run-wide transcript. Connection transcripts fold
	// into it as they close, so checkpoints judge the whole
	// conversation even when the scenario reconnects partway through.
	record *transcript.Transcript

	lastSend time.Time
}

func newRunner(sc *scenario.Scenario, target string, cfg *config.Config, logger *zap.Logger, metrics *Collector, user fixtures.User, thread string) *runner {
	if thread == "" {
		thread = sc.ThreadID()
	}
	return &runner{
		sc:      sc,
		target:  target,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		user:    user,
		thread:  thread,
		vars: map[string]string{
			"thread":     thread,
			"run":        uuid.NewString(),
			"user.id":    user.ID,
			"user.email": user.Email,
			"user.name":  user.DisplayName,
		},
		record: transcript.New(),
	}
}

// run executes every step, folds the final connection transcript, and
// judges the checkpoints. Failures land in the result, not in an error;
// the harness keeps going through a failing scenario.
func (r *runner) run(ctx context.Context) *RunResult {
	res := &RunResult{
		Scenario:    r.sc.Name,
		Target:      r.target,
		Thread:      r.thread,
		Passed:      true,
		Checkpoints: make([]CheckpointResult, 0, len(r.sc.Checkpoints)),
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.GetTimeout())
	defer cancel()

	if err := r.dial(ctx); err != nil {
		res.Passed = false
		res.FailureReasons = append(res.FailureReasons, fmt.Sprintf("dial: %v", err))
		res.Transcript = r.record
		return res
	}

	for i, step := range r.sc.Steps {
		if err := r.step(ctx, step); err != nil {
			res.Passed = false
			res.FailureReasons = append(res.FailureReasons, fmt.Sprintf("step %d: %v", i+1, err))
			break
		}
	}

	r.fold()
	r.measure()
	res.Transcript = r.record

	for _, cp := range r.sc.Checkpoints {
		cpr := CheckpointResult{Name: cp.Label(), Passed: true}
		if err := cp.Evaluate(r.record, r.thread); err != nil {
			cpr.Passed = false
			cpr.Reason = err.Error()
			res.Passed = false
			res.FailureReasons = append(res.FailureReasons, fmt.Sprintf("checkpoint %s: %v", cp.Label(), err))
		}
		res.Checkpoints = append(res.Checkpoints, cpr)
	}
	return res
}

// credential resolves the scenario's token fixture.
func (r *runner) credential() (string, error) {
	key := fixtures.StaticSigningKey()
	switch r.sc.Token {
	case "", "none":
		return "", nil
	case "valid":
		return fixtures.MintFor(key, r.user)
	case "expired":
		return fixtures.MintExpired(key, r.user)
	case "tampered":
		tok, err := fixtures.MintFor(key, r.user)
		if err != nil {
			return "", err
		}
		return fixtures.Tampered(tok), nil
	}
	return "", fmt.Errorf("unknown token fixture %q", r.sc.Token)
}

func (r *runner) dial(ctx context.Context) error {
	opts := []chattest.Option{
		chattest.WithLogger(r.logger),
		chattest.WithHeartbeat(r.cfg.GetHeartbeat()),
	}
	tok, err := r.credential()
	if err != nil {
		return err
	}
	if tok != "" {
		opts = append(opts, chattest.WithToken(tok))
	}
	cl, err := chattest.DialWithRetry(ctx, r.target, r.cfg.GetBackoff(), opts...)
	if err != nil {
		return err
	}
	r.client = cl
	return nil
}

func (r *runner) step(ctx context.Context, st scenario.Step) error {
	switch {
	case st.Send != nil:
		return r.send(st.Send)
	case st.Expect != nil:
		return r.expect(ctx, st.Expect)
	case st.Wait != "":
		d, err := time.ParseDuration(st.Wait)
		if err != nil {
			return fmt.Errorf("bad wait %q: %w", st.Wait, err)
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case st.Reconnect:
		return r.reconnect(ctx)
	}
	return errors.New("empty step")
}

func (r *runner) send(st *scenario.SendStep) error {
	var err error
	switch st.Type {
	case "message":
		_, err = r.client.SendMessage(r.thread, r.expand(st.Content))
	case "stream_chunk":
		_, err = r.client.SendStreamChunk(r.thread, r.expand(st.MessageID), r.expand(st.Chunk))
	case "agent_start":
		_, err = r.client.SendAgentStart(r.thread, st.AgentType)
	case "agent_complete":
		_, err = r.client.SendAgentComplete(r.thread, st.AgentType, st.Status)
	case "agent_message":
		_, err = r.client.SendAgentMessage(r.thread, st.AgentType, r.expand(st.Content))
	case "error":
		_, err = r.client.SendError(r.thread, r.expand(st.Error))
	case "raw":
		err = r.client.SendRaw([]byte(r.expand(st.Raw)))
	default:
		return fmt.Errorf("unknown send type %q", st.Type)
	}
	if err != nil {
		return err
	}
	r.metrics.RecordSent()
	r.lastSend = time.Now()
	return nil
}

func (r *runner) expect(ctx context.Context, st *scenario.ExpectStep) error {
	wait := r.cfg.GetTimeout()
	if st.Within != "" {
		if d, err := time.ParseDuration(st.Within); err == nil {
			wait = d
		}
	}
	sctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var err error
	if st.Type == "stream" {
		var final protocol.Message
		final, err = r.client.ExpectStream(sctx, r.thread)
		if err == nil {
			if want := r.expand(st.Content); st.Content != "" && final.Content != want {
				err = fmt.Errorf("stream assembled %q, want %q", final.Content, want)
			} else if sub := r.expand(st.ContentContains); st.ContentContains != "" && !strings.Contains(final.Content, sub) {
				err = fmt.Errorf("stream assembled %q, want substring %q", final.Content, sub)
			}
		}
	} else {
		want := protocol.Type(st.Type)
		_, err = r.client.ExpectMatch(sctx, func(env protocol.Envelope) bool {
			return r.matches(st, want, env)
		})
		if err != nil {
			err = fmt.Errorf("expecting %s: %w", st.Type, err)
		}
	}
	if err != nil {
		return err
	}
	if !r.lastSend.IsZero() {
		r.metrics.RecordRoundTrip(time.Since(r.lastSend))
		r.lastSend = time.Time{}
	}
	return nil
}

// matches applies every constraint the expect step sets. Unset
// constraints match anything.
func (r *runner) matches(st *scenario.ExpectStep, want protocol.Type, env protocol.Envelope) bool {
	if env.EnvelopeType() != want {
		return false
	}
	var content, role, agentType, status string
	switch e := env.(type) {
	case protocol.Message:
		content, role = e.Content, string(e.Role)
	case protocol.AgentMessage:
		content, role, agentType = e.Content, string(e.Role), e.AgentType
	case protocol.AgentStart:
		agentType = e.AgentType
	case protocol.AgentComplete:
		agentType, status = e.AgentType, string(e.Status)
	case protocol.StreamChunk:
		content = e.Chunk
	case protocol.ErrorEvent:
		content = e.Error
	}
	if st.Content != "" && content != r.expand(st.Content) {
		return false
	}
	if st.ContentContains != "" && !strings.Contains(content, r.expand(st.ContentContains)) {
		return false
	}
	if st.Role != "" && role != st.Role {
		return false
	}
	if st.AgentType != "" && agentType != st.AgentType {
		return false
	}
	if st.Status != "" && status != st.Status {
		return false
	}
	return true
}

func (r *runner) reconnect(ctx context.Context) error {
	r.fold()
	r.metrics.RecordReconnect()
	r.lastSend = time.Time{}
	return r.dial(ctx)
}

// measure derives conversation-level timings from the folded record:
// wall time per terminated agent run, first-chunk-to-final time per
// assembled stream.
func (r *runner) measure() {
	for _, ar := range r.record.AgentRuns() {
		if ar.Terminated {
			r.metrics.RecordAgentRun(ar.Duration())
		}
	}
	for _, id := range r.record.StreamIDs() {
		if d, ok := r.streamSpan(id); ok {
			r.metrics.RecordStreamAssembly(d)
		}
	}
}

// streamSpan measures from the arrival of messageID's first chunk to
// the arrival of its final message, using entry wall clocks rather
// than the coarser envelope timestamps.
func (r *runner) streamSpan(messageID string) (time.Duration, bool) {
	var first time.Time
	for _, e := range r.record.All() {
		switch env := e.Envelope.(type) {
		case protocol.StreamChunk:
			if env.MessageID == messageID && first.IsZero() {
				first = e.At
			}
		case protocol.Message:
			if env.ID == messageID && !first.IsZero() {
				return e.At.Sub(first), true
			}
		}
	}
	return 0, false
}

// fold closes the live connection and replays its transcript into the
// run-wide record.
func (r *runner) fold() {
	if r.client == nil {
		return
	}
	_ = r.client.Close()
	received := 0
	for _, e := range r.client.Transcript().All() {
		r.record.Append(e.Direction, e.At, e.Envelope)
		if e.Direction == transcript.Received {
			received++
		}
	}
	r.metrics.RecordReceived(received)
	r.client = nil
}

func (r *runner) expand(s string) string {
	return scenario.Expand(s, r.vars)
}
