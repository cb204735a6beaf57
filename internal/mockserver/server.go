// Package mockserver is a stand-in for the chat platform's WebSocket
// surface. It speaks the real wire protocol, answers with pluggable
// scripts, and exposes the health and metrics endpoints integration
// tests probe. It simulates observable behavior only; nothing in here
// is the platform.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rehearsal/internal/config"
	"rehearsal/internal/fixtures"
	"rehearsal/internal/protocol"
	"rehearsal/internal/transcript"
)

const serverVersion = "1.2.0"

var errSendQueueFull = errors.New("send queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The toolkit talks to itself; origin checks only get in the way.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server is the mock chat server.
type Server struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	script  Script
	metrics *Metrics
	hub     *hub
	record  *transcript.Transcript

	signingKey fixtures.SigningKey
	factory    protocol.Factory

	httpServer *http.Server
	listener   net.Listener
	started    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	healthStatus string
	healthRaw    []byte
}

// Option adjusts a Server before it starts.
type Option func(*Server)

// WithLogger replaces the default nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithScript replaces the script chosen by the configuration.
func WithScript(script Script) Option {
	return func(s *Server) { s.script = script }
}

// WithFactory replaces the envelope factory, pinning IDs and timestamps.
func WithFactory(f protocol.Factory) Option {
	return func(s *Server) {
		s.factory = f
		s.script = nil // rebuilt against the new factory in New
	}
}

// New builds a server from configuration. Call Start to begin serving.
func New(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       zap.NewNop(),
		metrics:      NewMetrics(),
		record:       transcript.New(),
		healthStatus: "ok",
	}

	s.signingKey = fixtures.StaticSigningKey()
	if cfg.SigningKey != "" {
		s.signingKey = fixtures.SigningKey(cfg.SigningKey)
	}

	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)

	if s.script == nil {
		delay, err := time.ParseDuration(cfg.StreamChunkDelay)
		if err != nil {
			delay = 10 * time.Millisecond
		}
		script, err := NewScript(cfg.Script, ScriptConfig{
			Factory:     s.factory,
			Locale:      cfg.Locale,
			ChunkDelay:  delay,
			FailureRate: cfg.FailureRate,
			Seed:        cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
		s.script = script
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Router returns the HTTP surface: /ws, /healthz, /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start listens on the configured address. An address of the form
// "host:0" picks a free port; Addr reports the one chosen.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.started = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("mock server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("mock server listening",
		zap.String("addr", s.Addr()),
		zap.String("script", s.script.Name()))
	return nil
}

// Shutdown stops accepting connections, closes the live ones, and waits
// for the HTTP server to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.closeAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// URL returns the http base URL.
func (s *Server) URL() string { return "http://" + s.Addr() }

// WSURL returns the WebSocket endpoint URL.
func (s *Server) WSURL() string { return "ws://" + s.Addr() + "/ws" }

// Transcript returns everything the server received and sent, across
// all connections, in arrival order.
func (s *Server) Transcript() *transcript.Transcript { return s.record }

// Connections returns the number of live WebSocket connections.
func (s *Server) Connections() int { return s.hub.count() }

// Broadcast sends an envelope to every connected client.
func (s *Server) Broadcast(env protocol.Envelope) error {
	if err := protocol.Validate(env); err != nil {
		return err
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	s.record.Append(transcript.Sent, time.Now().UTC(), env)
	s.metrics.Envelopes.WithLabelValues(string(env.EnvelopeType()), "sent").Inc()
	s.hub.broadcast(data)
	return nil
}

// SetHealthStatus overrides the status reported by /healthz. Probing
// tests use it to simulate a degraded or corrupted platform.
func (s *Server) SetHealthStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthStatus = status
	s.healthRaw = nil
}

// SetHealthRaw makes /healthz serve exactly body, however malformed.
func (s *Server) SetHealthRaw(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthRaw = body
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status, raw := s.healthStatus, s.healthRaw
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if raw != nil {
		w.Write(raw)
		return
	}

	payload := struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime"`
		Connections int    `json:"connections"`
	}{
		Status:      status,
		Version:     serverVersion,
		Uptime:      time.Since(s.started).Round(time.Millisecond).String(),
		Connections: s.hub.count(),
	}
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(payload)
}

// bearerToken pulls the token from the Authorization header, or from the
// token query parameter for clients that cannot set headers on upgrade.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (s *Server) authenticate(r *http.Request) (*fixtures.Claims, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, errors.New("missing token")
	}
	claims, err := fixtures.Check(s.signingKey, token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var claims *fixtures.Claims
	if s.cfg.AuthRequired {
		var err error
		claims, err = s.authenticate(r)
		if err != nil {
			s.metrics.AuthRejections.Inc()
			s.logger.Info("rejected connection", zap.Error(err))
			msg, _ := fixtures.Lookup(s.cfg.Locale, "error.unauthorized")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": msg})
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Info("upgrade failed", zap.Error(err))
		return
	}

	c := newClient(s.hub, conn, claims, s.record)
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.metrics.Connections.Inc()
	if claims != nil {
		s.logger.Debug("connection open", zap.String("subject", claims.Subject))
	}

	go c.writePump()
	go s.readLoop(c)
}

// readLoop decodes inbound envelopes and hands them to the script. It
// owns the read side of the connection and exits when the peer goes
// away or the server shuts down.
func (s *Server) readLoop(c *client) {
	defer func() {
		s.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	emit := c.emitter(s)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", zap.Error(err))
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.metrics.Envelopes.WithLabelValues("malformed", "received").Inc()
			msg, _ := fixtures.Lookup(s.cfg.Locale, "error.internal")
			if emitErr := emit(s.factory.ErrorEvent("system", msg)); emitErr != nil {
				return
			}
			continue
		}

		s.record.Append(transcript.Received, time.Now().UTC(), env)
		s.metrics.Envelopes.WithLabelValues(string(env.EnvelopeType()), "received").Inc()

		if err := s.script.React(s.ctx, env, emit); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.metrics.ScriptFailures.Inc()
			s.logger.Warn("script error", zap.String("script", s.script.Name()), zap.Error(err))
			if errors.Is(err, errSendQueueFull) {
				return
			}
		}
	}
}
