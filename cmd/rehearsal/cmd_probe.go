package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rehearsal/internal/healthprobe"
)

var (
	probeTarget   string
	probeWatch    bool
	probeInterval time.Duration
	probeJSON     bool
)

// probeCmd checks a target's health endpoint, once or on a loop.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe a target's health endpoint",
	Long: `GET the target's health endpoint, classify the answer, and flag
encoding damage in the body. Exits non-zero when the target is not
healthy.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeTarget, "target", "", "base URL, e.g. http://127.0.0.1:8765")
	probeCmd.Flags().BoolVar(&probeWatch, "watch", false, "keep probing until interrupted")
	probeCmd.Flags().DurationVar(&probeInterval, "interval", 5*time.Second, "probing interval with --watch")
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "print reports as JSON")
	_ = probeCmd.MarkFlagRequired("target")
}

func runProbe(cmd *cobra.Command, args []string) error {
	prober := healthprobe.New(healthprobe.WithLogger(logger))

	if !probeWatch {
		report, err := prober.Probe(cmd.Context(), probeTarget)
		if err != nil {
			printReport(report)
			return fmt.Errorf("probe failed: %w", err)
		}
		printReport(report)
		if !report.Healthy() {
			return errors.New("target is not healthy")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	for report := range prober.Watch(ctx, probeTarget, probeInterval) {
		printReport(report)
	}
	return nil
}

func printReport(report healthprobe.Report) {
	if probeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	fmt.Printf("[%s] %s http=%d latency=%v connections=%d",
		report.CheckedAt.Format("15:04:05"), report.Status, report.HTTPCode,
		report.Latency.Round(time.Millisecond), report.Connections)
	if report.Version != "" {
		fmt.Printf(" version=%s", report.Version)
	}
	fmt.Println()
	for _, problem := range report.Problems {
		fmt.Printf("  ! %s\n", problem)
	}
}
