package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rehearsal/internal/mockserver"
	"rehearsal/internal/scenario"
)

var (
	serveAddr        string
	serveScript      string
	serveAuth        bool
	serveFailureRate float64
	serveWatch       bool
)

// serveCmd runs the mock platform until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mock chat platform",
	Long: `Serve a scripted WebSocket chat endpoint plus /healthz and /metrics.

Scripts: echo, streamer, agent, flaky, silent. With --watch, scenario
files under the configured directory reload on change, so editing a
scenario while a session is up does not need a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveScript, "script", "", "server script (overrides config)")
	serveCmd.Flags().BoolVar(&serveAuth, "auth", false, "require bearer tokens")
	serveCmd.Flags().Float64Var(&serveFailureRate, "failure-rate", -1, "flaky script failure probability, 0 to 1")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "hot-reload scenario files")
}

func runServe(cmd *cobra.Command, args []string) error {
	sc := cfg.Server
	if serveAddr != "" {
		sc.Addr = serveAddr
	}
	if serveScript != "" {
		sc.Script = serveScript
	}
	if serveAuth {
		sc.AuthRequired = true
	}
	if serveFailureRate >= 0 {
		sc.FailureRate = serveFailureRate
	}

	srv, err := mockserver.New(sc, mockserver.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	fmt.Printf("mock platform listening on %s (script: %s)\n", srv.Addr(), sc.Script)
	fmt.Printf("  ws:      %s\n", srv.WSURL())
	fmt.Printf("  health:  %s/healthz\n", srv.URL())
	fmt.Printf("  metrics: %s/metrics\n", srv.URL())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if serveWatch && cfg.Scenarios.Dir != "" {
		watcher, werr := scenario.NewWatcher(cfg.Scenarios.Dir, logger, func(loaded []*scenario.Scenario) {
			logger.Info("scenario set now live", zap.Int("count", len(loaded)))
		})
		if werr != nil {
			logger.Warn("scenario watcher unavailable", zap.Error(werr))
		} else if werr = watcher.Start(ctx); werr != nil {
			logger.Warn("scenario watcher failed to start", zap.Error(werr))
		} else {
			defer watcher.Stop()
			fmt.Printf("  watching %s for scenario changes\n", cfg.Scenarios.Dir)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
