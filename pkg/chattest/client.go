// Package chattest is a WebSocket test client for the chat platform's
// wire protocol. It dials an endpoint (real or mock), sends typed
// envelopes, waits for expected replies with deadlines, and records
// everything in a transcript that assertion helpers can judge.
package chattest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rehearsal/internal/protocol"
	"rehearsal/internal/transcript"
)

const inboxDepth = 256

// ErrClosed reports that the connection ended before the expectation
// could be met.
var ErrClosed = errors.New("connection closed")

type options struct {
	token     string
	header    http.Header
	logger    *zap.Logger
	factory   protocol.Factory
	heartbeat protocol.Heartbeat
	pings     bool
}

// Option adjusts the client before it dials.
type Option func(*options)

// WithToken attaches a bearer token to the upgrade request.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithHeader adds an HTTP header to the upgrade request.
func WithHeader(key, value string) Option {
	return func(o *options) { o.header.Set(key, value) }
}

// WithLogger replaces the default nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFactory pins the clock and ID source used for outbound envelopes.
func WithFactory(f protocol.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithHeartbeat turns on client-side pings on the given schedule.
func WithHeartbeat(hb protocol.Heartbeat) Option {
	return func(o *options) {
		o.heartbeat = hb
		o.pings = true
	}
}

// Client is one WebSocket connection under test control. Sends are safe
// from any goroutine; expectations and Drain consume a shared buffer and
// must be driven from a single goroutine.
type Client struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	factory protocol.Factory
	record  *transcript.Transcript

	writeMu sync.Mutex
	inbox   chan protocol.Envelope
	pending []protocol.Envelope

	done     chan struct{}
	stopPing chan struct{}
	closeOne sync.Once

	mu      sync.Mutex
	readErr error
}

// Dial connects to a WebSocket endpoint and starts reading.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{
		header: http.Header{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.token != "" {
		o.header.Set("Authorization", "Bearer "+o.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, o.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		logger:   o.logger,
		factory:  o.factory,
		record:   transcript.New(),
		inbox:    make(chan protocol.Envelope, inboxDepth),
		done:     make(chan struct{}),
		stopPing: make(chan struct{}),
	}
	go c.readLoop()
	if o.pings {
		go c.pingLoop(o.heartbeat)
	}
	return c, nil
}

// DialWithRetry dials with the given backoff schedule until it connects
// or the context expires.
func DialWithRetry(ctx context.Context, url string, backoff protocol.Backoff, opts ...Option) (*Client, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		c, err := Dial(ctx, url, opts...)
		if err == nil {
			return c, nil
		}
		lastErr = err

		delay := backoff.Delay(attempt)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up after %d attempts: %w", attempt+1, lastErr)
		case <-time.After(delay):
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		c.record.Append(transcript.Received, time.Now().UTC(), env)
		select {
		case c.inbox <- env:
		default:
			c.logger.Warn("inbox full, dropping envelope",
				zap.String("type", string(env.EnvelopeType())))
		}
	}
}

func (c *Client) pingLoop(hb protocol.Heartbeat) {
	if hb.Interval <= 0 {
		hb = protocol.DefaultHeartbeat()
	}
	ticker := time.NewTicker(hb.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(hb.Grace)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.stopPing:
			return
		case <-c.done:
			return
		}
	}
}

// Close performs a clean WebSocket shutdown and waits for the reader
// to drain.
func (c *Client) Close() error {
	var err error
	c.closeOne.Do(func() {
		close(c.stopPing)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
		select {
		case <-c.done:
		case <-time.After(2 * time.Second):
		}
	})
	return err
}

// Transcript returns everything this client sent and received.
func (c *Client) Transcript() *transcript.Transcript { return c.record }

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		return nil
	}
	return c.readErr
}

// SendEnvelope validates, encodes, and writes one envelope.
func (c *Client) SendEnvelope(env protocol.Envelope) error {
	if err := protocol.Validate(env); err != nil {
		return err
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := c.writeFrame(data); err != nil {
		return err
	}
	c.record.Append(transcript.Sent, time.Now().UTC(), env)
	return nil
}

// SendRaw writes bytes as a text frame without validation. Malformed
// input tests live on this.
func (c *Client) SendRaw(data []byte) error {
	return c.writeFrame(data)
}

func (c *Client) writeFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendMessage sends a user chat message and returns the envelope sent.
func (c *Client) SendMessage(threadID, content string) (protocol.Message, error) {
	m := c.factory.Message(threadID, protocol.RoleUser, content)
	return m, c.SendEnvelope(m)
}

// SendStreamChunk sends one fragment of an in-flight message.
func (c *Client) SendStreamChunk(threadID, messageID, chunk string) (protocol.StreamChunk, error) {
	sc := c.factory.StreamChunk(threadID, messageID, chunk)
	return sc, c.SendEnvelope(sc)
}

// SendAgentStart announces an agent beginning work.
func (c *Client) SendAgentStart(threadID, agentType string) (protocol.AgentStart, error) {
	a := c.factory.AgentStart(threadID, agentType)
	return a, c.SendEnvelope(a)
}

// SendAgentComplete reports an agent finishing with the given status.
func (c *Client) SendAgentComplete(threadID, agentType, status string) (protocol.AgentComplete, error) {
	a := c.factory.AgentComplete(threadID, agentType, status)
	return a, c.SendEnvelope(a)
}

// SendAgentMessage sends a message authored by an agent.
func (c *Client) SendAgentMessage(threadID, agentType, content string) (protocol.AgentMessage, error) {
	a := c.factory.AgentMessage(threadID, agentType, protocol.RoleAssistant, content)
	return a, c.SendEnvelope(a)
}

// SendError sends a thread-scoped error envelope.
func (c *Client) SendError(threadID, message string) (protocol.ErrorEvent, error) {
	e := c.factory.ErrorEvent(threadID, message)
	return e, c.SendEnvelope(e)
}

// next returns the oldest unconsumed envelope, honoring ctx.
func (c *Client) next(ctx context.Context) (protocol.Envelope, error) {
	if len(c.pending) > 0 {
		env := c.pending[0]
		c.pending = c.pending[1:]
		return env, nil
	}
	select {
	case env := <-c.inbox:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// The reader is gone, but envelopes may still sit in the inbox.
		select {
		case env := <-c.inbox:
			return env, nil
		default:
		}
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return nil, ErrClosed
	}
}

// ExpectMatch waits for the first envelope the predicate accepts.
// Envelopes that do not match stay buffered for later expectations,
// so out-of-order assertions still see everything.
func (c *Client) ExpectMatch(ctx context.Context, match func(protocol.Envelope) bool) (protocol.Envelope, error) {
	// Scan what earlier expectations skipped over.
	for i, env := range c.pending {
		if match(env) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return env, nil
		}
	}
	var skipped []protocol.Envelope
	defer func() { c.pending = append(c.pending, skipped...) }()
	for {
		env, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		if match(env) {
			return env, nil
		}
		skipped = append(skipped, env)
	}
}

// Expect waits for the next envelope of the given type.
func (c *Client) Expect(ctx context.Context, pt protocol.Type) (protocol.Envelope, error) {
	env, err := c.ExpectMatch(ctx, func(e protocol.Envelope) bool {
		return e.EnvelopeType() == pt
	})
	if err != nil {
		return nil, fmt.Errorf("expecting %s: %w", pt, err)
	}
	return env, nil
}

// ExpectMessage waits for the next full chat message.
func (c *Client) ExpectMessage(ctx context.Context) (protocol.Message, error) {
	env, err := c.Expect(ctx, protocol.TypeMessage)
	if err != nil {
		return protocol.Message{}, err
	}
	return env.(protocol.Message), nil
}

// ExpectError waits for the next error envelope.
func (c *Client) ExpectError(ctx context.Context) (protocol.ErrorEvent, error) {
	env, err := c.Expect(ctx, protocol.TypeError)
	if err != nil {
		return protocol.ErrorEvent{}, err
	}
	return env.(protocol.ErrorEvent), nil
}

// ExpectStream collects chunks for one streamed message and the full
// message that finalizes it, returning the finalized content.
func (c *Client) ExpectStream(ctx context.Context, threadID string) (protocol.Message, error) {
	var messageID string
	env, err := c.ExpectMatch(ctx, func(e protocol.Envelope) bool {
		sc, ok := e.(protocol.StreamChunk)
		return ok && sc.ThreadID == threadID
	})
	if err != nil {
		return protocol.Message{}, fmt.Errorf("expecting first chunk: %w", err)
	}
	messageID = env.(protocol.StreamChunk).MessageID

	final, err := c.ExpectMatch(ctx, func(e protocol.Envelope) bool {
		m, ok := e.(protocol.Message)
		return ok && m.ID == messageID
	})
	if err != nil {
		return protocol.Message{}, fmt.Errorf("expecting final message %s: %w", messageID, err)
	}
	return final.(protocol.Message), nil
}

// Drain returns everything that arrives within d, leaving nothing
// buffered. Quiet connections return an empty slice.
func (c *Client) Drain(d time.Duration) []protocol.Envelope {
	out := c.pending
	c.pending = nil

	deadline := time.After(d)
	for {
		select {
		case env := <-c.inbox:
			out = append(out, env)
		case <-deadline:
			return out
		case <-c.done:
			// Flush whatever already arrived.
			for {
				select {
				case env := <-c.inbox:
					out = append(out, env)
				default:
					return out
				}
			}
		}
	}
}
