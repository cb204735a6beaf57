package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rehearsal/internal/harness"
	"rehearsal/internal/mockserver"
	"rehearsal/internal/transcript"
)

var (
	runTarget string
	runAll    bool
	runLoad   int
	runFormat string
	runSave   string
)

// runCmd plays scenarios and exits non-zero when one fails.
var runCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "Run a scenario against a target endpoint",
	Long: `Run a scenario's steps over a live WebSocket connection and judge
the transcript against the scenario's checkpoints.

Without --target the command starts an in-process mock server running
the script the scenario was written against, so a bare "rehearsal run
golden-path" needs nothing else up. With --target ws://host/ws the same
steps drive a real deployment.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTarget, "target", "", "WebSocket endpoint (default: in-process mock)")
	runCmd.Flags().BoolVar(&runAll, "all", false, "run every loaded scenario")
	runCmd.Flags().IntVar(&runLoad, "load", 0, "run with N concurrent clients")
	runCmd.Flags().StringVar(&runFormat, "format", "console", "report format: console or json")
	runCmd.Flags().StringVar(&runSave, "save", "", "save the transcript to this SQLite file")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runAll {
		if runLoad > 1 {
			return errors.New("--load takes a single scenario, not --all")
		}
		return runSweep(cmd.Context())
	}
	if len(args) != 1 {
		return errors.New("scenario name required, or --all")
	}
	name := args[0]

	target := runTarget
	if target == "" {
		h, err := harness.New("", cfg, os.Stdout, runFormat, logger)
		if err != nil {
			return err
		}
		sc, ok := h.Scenario(name)
		if !ok {
			return fmt.Errorf("scenario %q not found", name)
		}
		srv, err := startMock(sc.Script)
		if err != nil {
			return err
		}
		defer stopMock(srv)
		target = srv.WSURL()
	}

	h, err := harness.New(target, cfg, os.Stdout, runFormat, logger)
	if err != nil {
		return err
	}

	if runLoad > 1 {
		cfg.Harness.Clients = runLoad
		lr, err := h.RunLoad(cmd.Context(), name)
		if err != nil {
			return err
		}
		if lr.Failed > 0 {
			return fmt.Errorf("%d of %d clients failed scenario %q", lr.Failed, lr.Clients, name)
		}
		return nil
	}

	res, err := h.RunScenario(cmd.Context(), name)
	if err != nil {
		return err
	}
	if runSave != "" {
		if err := saveTranscript(res); err != nil {
			return err
		}
	}
	if !res.Passed {
		return fmt.Errorf("scenario %q failed", name)
	}
	return nil
}

// runSweep runs every loaded scenario. With a fixed target it hands the
// whole sweep to the harness; self-contained, each scenario gets a mock
// server running its own script.
func runSweep(ctx context.Context) error {
	if runTarget != "" {
		h, err := harness.New(runTarget, cfg, os.Stdout, runFormat, logger)
		if err != nil {
			return err
		}
		results, err := h.RunAll(ctx)
		if err != nil {
			return err
		}
		for _, res := range results {
			if !res.Passed {
				return errors.New("scenario sweep failed")
			}
		}
		return nil
	}

	index, err := harness.New("", cfg, os.Stdout, runFormat, logger)
	if err != nil {
		return err
	}

	var results []*harness.RunResult
	for _, name := range index.ListScenarios() {
		sc, _ := index.Scenario(name)
		srv, err := startMock(sc.Script)
		if err != nil {
			return err
		}
		h, err := harness.New(srv.WSURL(), cfg, os.Stdout, runFormat, logger)
		if err != nil {
			stopMock(srv)
			return err
		}
		res, err := h.RunScenario(ctx, name)
		stopMock(srv)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	if err := harness.NewReporter(os.Stdout, runFormat).ReportSummary(results); err != nil {
		return err
	}
	for _, res := range results {
		if !res.Passed {
			return errors.New("scenario sweep failed")
		}
	}
	return nil
}

func startMock(script string) (*mockserver.Server, error) {
	sc := cfg.Server
	sc.Addr = "127.0.0.1:0"
	if script != "" {
		sc.Script = script
	}
	srv, err := mockserver.New(sc, mockserver.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

func stopMock(srv *mockserver.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func saveTranscript(res *harness.RunResult) error {
	store, err := transcript.OpenStore(runSave)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	defer store.Close()

	runName := fmt.Sprintf("%s %s", res.Scenario, time.Now().UTC().Format(time.RFC3339))
	id, err := store.Save(runName, res.Transcript)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	fmt.Printf("transcript saved as run %d in %s\n", id, runSave)
	return nil
}
