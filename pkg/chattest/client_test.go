package chattest_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rehearsal/internal/config"
	"rehearsal/internal/fixtures"
	"rehearsal/internal/mockserver"
	"rehearsal/internal/protocol"
	"rehearsal/pkg/chattest"
)

func startServer(t *testing.T, script string, mutate func(*config.ServerConfig)) *mockserver.Server {
	t.Helper()
	cfg := config.DefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	cfg.Script = script
	cfg.StreamChunkDelay = "1ms"
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := mockserver.New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func dialClient(t *testing.T, srv *mockserver.Server, opts ...chattest.Option) *chattest.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := chattest.Dial(ctx, srv.WSURL(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func expectCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDialAndEcho(t *testing.T) {
	srv := startServer(t, "echo", nil)
	c := dialClient(t, srv)

	sent, err := c.SendMessage("t-1", "hello platform")
	require.NoError(t, err)
	require.Equal(t, protocol.RoleUser, sent.Role)

	reply, err := c.ExpectMessage(expectCtx(t))
	require.NoError(t, err)
	require.Equal(t, "hello platform", reply.Content)
	require.Equal(t, protocol.RoleAssistant, reply.Role)

	chattest.RequireThreadConsistent(t, c.Transcript(), "t-1")
	chattest.RequireNoErrors(t, c.Transcript())
	require.Equal(t, 2, c.Transcript().Len())
}

func TestExpectBuffersOutOfOrder(t *testing.T) {
	srv := startServer(t, "agent", nil)
	c := dialClient(t, srv)

	_, err := c.SendMessage("t-1", "dig into this")
	require.NoError(t, err)

	// Wait for the end of the lifecycle first; the earlier envelopes
	// must still be observable afterwards.
	ctx := expectCtx(t)
	complete, err := c.Expect(ctx, protocol.TypeAgentComplete)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusCompleted, complete.(protocol.AgentComplete).Status)

	start, err := c.Expect(ctx, protocol.TypeAgentStart)
	require.NoError(t, err)
	require.Equal(t, "researcher", start.(protocol.AgentStart).AgentType)

	first, err := c.Expect(ctx, protocol.TypeAgentMessage)
	require.NoError(t, err)
	second, err := c.Expect(ctx, protocol.TypeAgentMessage)
	require.NoError(t, err)
	require.NotEqual(t,
		first.(protocol.AgentMessage).ID,
		second.(protocol.AgentMessage).ID)

	chattest.RequireAgentRunsTerminated(t, c.Transcript())
}

func TestExpectStream(t *testing.T) {
	srv := startServer(t, "streamer", nil)
	c := dialClient(t, srv)

	_, err := c.SendMessage("t-1", "the quick brown fox")
	require.NoError(t, err)

	final, err := c.ExpectStream(expectCtx(t), "t-1")
	require.NoError(t, err)
	require.Equal(t, "the quick brown fox", final.Content)

	chattest.RequireStreamAssembles(t, c.Transcript(), final.ID)
	chattest.RequireTimestampsMonotonic(t, c.Transcript())
}

func TestExpectTimesOutAgainstSilence(t *testing.T) {
	srv := startServer(t, "silent", nil)
	c := dialClient(t, srv)

	_, err := c.SendMessage("t-1", "hello?")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.ExpectMessage(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrainCollectsEverything(t *testing.T) {
	srv := startServer(t, "agent", nil)
	c := dialClient(t, srv)

	_, err := c.SendMessage("t-1", "run the lifecycle")
	require.NoError(t, err)

	envs := c.Drain(500 * time.Millisecond)
	require.Len(t, envs, 4)
	require.Equal(t, protocol.TypeAgentStart, envs[0].EnvelopeType())
	require.Equal(t, protocol.TypeAgentComplete, envs[3].EnvelopeType())
}

func TestFlakyErrorSurface(t *testing.T) {
	srv := startServer(t, "flaky", func(cfg *config.ServerConfig) {
		cfg.FailureRate = 1
	})
	c := dialClient(t, srv)

	_, err := c.SendMessage("t-1", "doomed")
	require.NoError(t, err)

	errEnv, err := c.ExpectError(expectCtx(t))
	require.NoError(t, err)
	require.Equal(t, "t-1", errEnv.ThreadID)
	wantMsg, _ := fixtures.Lookup("en", "error.internal")
	require.Equal(t, wantMsg, errEnv.Error)
}

func TestSendRawMalformed(t *testing.T) {
	srv := startServer(t, "echo", nil)
	c := dialClient(t, srv)

	require.NoError(t, c.SendRaw([]byte(`{"type": 42}`)))

	errEnv, err := c.ExpectError(expectCtx(t))
	require.NoError(t, err)
	require.Equal(t, "system", errEnv.ThreadID)
}

func TestSendEnvelopeValidates(t *testing.T) {
	srv := startServer(t, "echo", nil)
	c := dialClient(t, srv)

	err := c.SendEnvelope(protocol.Message{Type: protocol.TypeMessage})
	require.ErrorIs(t, err, protocol.ErrInvalid)
}

func TestDialAuth(t *testing.T) {
	srv := startServer(t, "echo", func(cfg *config.ServerConfig) {
		cfg.AuthRequired = true
	})

	ctx := expectCtx(t)
	_, err := chattest.Dial(ctx, srv.WSURL())
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")

	token, err := fixtures.MintFor(fixtures.StaticSigningKey(), fixtures.DefaultUser())
	require.NoError(t, err)
	c, err := chattest.Dial(ctx, srv.WSURL(), chattest.WithToken(token))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.SendMessage("t-1", "authed hello")
	require.NoError(t, err)
	reply, err := c.ExpectMessage(expectCtx(t))
	require.NoError(t, err)
	require.Equal(t, "authed hello", reply.Content)
}

func TestDialWithRetryEventuallyConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	serverReady := make(chan *mockserver.Server, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		cfg := config.DefaultConfig().Server
		cfg.Addr = addr
		srv, err := mockserver.New(cfg)
		if err == nil && srv.Start() == nil {
			serverReady <- srv
			return
		}
		serverReady <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	backoff := protocol.Backoff{Base: 50 * time.Millisecond, Max: 200 * time.Millisecond}
	c, err := chattest.DialWithRetry(ctx, "ws://"+addr+"/ws", backoff)
	require.NoError(t, err)
	defer c.Close()

	srv := <-serverReady
	require.NotNil(t, srv)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()

	_, err = c.SendMessage("t-1", "finally")
	require.NoError(t, err)
	reply, err := c.ExpectMessage(expectCtx(t))
	require.NoError(t, err)
	require.Equal(t, "finally", reply.Content)
}

func TestDialWithRetryGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	backoff := protocol.Backoff{Base: 50 * time.Millisecond, Max: 100 * time.Millisecond}

	_, err := chattest.DialWithRetry(ctx, "ws://127.0.0.1:1/ws", backoff)
	require.Error(t, err)
	require.Contains(t, err.Error(), "gave up")
}

func TestCloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := config.DefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	srv, err := mockserver.New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := chattest.Dial(ctx, srv.WSURL(),
		chattest.WithHeartbeat(protocol.Heartbeat{Interval: 20 * time.Millisecond, Grace: 100 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.SendMessage("t-1", "ping me")
	require.NoError(t, err)
	_, err = c.ExpectMessage(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return srv.Connections() == 0 },
		time.Second, 10*time.Millisecond)
	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	require.NoError(t, srv.Shutdown(sctx))
}
