package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rehearsal/internal/transcript"
	"rehearsal/pkg/chattest"
)

var (
	recordTarget string
	recordFor    time.Duration
	recordOut    string
	recordStore  string
	recordToken  string
)

// recordCmd attaches a passive client and captures whatever the target
// says until the duration elapses or an interrupt arrives.
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture a target's traffic into a transcript",
	RunE:  runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordTarget, "target", "", "WebSocket endpoint to attach to")
	recordCmd.Flags().DurationVar(&recordFor, "for", 0, "stop after this long (default: until interrupted)")
	recordCmd.Flags().StringVar(&recordOut, "out", "", "write the transcript as JSON to this file (- for stdout)")
	recordCmd.Flags().StringVar(&recordStore, "store", "", "save the transcript to this SQLite file")
	recordCmd.Flags().StringVar(&recordToken, "token", "", "bearer token for the dial")
	_ = recordCmd.MarkFlagRequired("target")
}

func runRecord(cmd *cobra.Command, args []string) error {
	if recordOut == "" && recordStore == "" {
		return errors.New("nowhere to put the recording: set --out or --store")
	}

	ctx := cmd.Context()
	if recordFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordFor)
		defer cancel()
	}

	opts := []chattest.Option{chattest.WithLogger(logger)}
	if recordToken != "" {
		opts = append(opts, chattest.WithToken(recordToken))
	}
	client, err := chattest.DialWithRetry(ctx, recordTarget, cfg.GetBackoff(), opts...)
	if err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}

	fmt.Fprintf(os.Stderr, "recording %s, stop with ctrl-c\n", recordTarget)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logger.Info("recording interrupted")
	case <-ctx.Done():
	}

	// Settle so in-flight envelopes land in the transcript.
	client.Drain(200 * time.Millisecond)
	if err := client.Close(); err != nil {
		logger.Warn("close after recording", zap.Error(err))
	}

	tr := client.Transcript()
	fmt.Fprintf(os.Stderr, "captured %d envelopes\n", tr.Len())

	if recordOut != "" {
		if err := writeRecording(tr); err != nil {
			return err
		}
	}
	if recordStore != "" {
		store, err := transcript.OpenStore(recordStore)
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		defer store.Close()
		name := fmt.Sprintf("recording %s", time.Now().UTC().Format(time.RFC3339))
		id, err := store.Save(name, tr)
		if err != nil {
			return fmt.Errorf("failed to save recording: %w", err)
		}
		fmt.Fprintf(os.Stderr, "saved as run %d in %s\n", id, recordStore)
	}
	return nil
}

func writeRecording(tr *transcript.Transcript) error {
	if recordOut == "-" {
		return tr.WriteJSON(os.Stdout)
	}
	f, err := os.Create(recordOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", recordOut, err)
	}
	defer f.Close()
	if err := tr.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", recordOut, err)
	}
	return nil
}
