package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true)

	bar  = strings.Repeat("═", 63)
	rule = strings.Repeat("─", 63)
)

// Reporter formats and writes run results.
type Reporter struct {
	writer io.Writer
	format string // "console" or "json"
}

// NewReporter creates a reporter for the given output format.
func NewReporter(writer io.Writer, format string) *Reporter {
	return &Reporter{
		writer: writer,
		format: format,
	}
}

// Report writes one scenario result.
func (r *Reporter) Report(result *RunResult) error {
	if r.format == "json" {
		return r.reportJSON(result)
	}
	return r.reportConsole(result)
}

func (r *Reporter) reportJSON(v any) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Reporter) reportConsole(result *RunResult) error {
	var sb strings.Builder

	sb.WriteString(bar + "\n")
	sb.WriteString(titleStyle.Render(fmt.Sprintf("  SCENARIO: %s", result.Scenario)) + "\n")
	sb.WriteString(fmt.Sprintf("  target: %s | thread: %s\n", result.Target, result.Thread))
	sb.WriteString(bar + "\n\n")

	if result.Passed {
		sb.WriteString(passStyle.Render("✓ STATUS: PASSED") + "\n\n")
	} else {
		sb.WriteString(failStyle.Render("✗ STATUS: FAILED") + "\n\n")
		if len(result.FailureReasons) > 0 {
			sb.WriteString("Failure Reasons:\n")
			for i, reason := range result.FailureReasons {
				sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, reason))
			}
			sb.WriteString("\n")
		}
	}

	writeMetrics(&sb, result.Metrics)

	if len(result.Checkpoints) > 0 {
		sb.WriteString("CHECKPOINTS:\n")
		sb.WriteString(rule + "\n")
		for _, cp := range result.Checkpoints {
			sb.WriteString(fmt.Sprintf("%s %s\n", checkMark(cp.Passed), cp.Name))
			if cp.Reason != "" {
				sb.WriteString(fmt.Sprintf("    %s\n", cp.Reason))
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString(bar + "\n")

	_, err := io.WriteString(r.writer, sb.String())
	return err
}

func writeMetrics(sb *strings.Builder, m Metrics) {
	sb.WriteString("METRICS:\n")
	sb.WriteString(rule + "\n")
	sb.WriteString(fmt.Sprintf("  Envelopes:    %d sent | %d received\n", m.EnvelopesSent, m.EnvelopesReceived))
	sb.WriteString(fmt.Sprintf("  Round Trips:  %d\n", m.RoundTrips))
	if m.RoundTrips > 0 {
		sb.WriteString(fmt.Sprintf("  RTT:          min %v | mean %v | max %v\n", m.RTTMin, m.RTTMean, m.RTTMax))
		sb.WriteString(fmt.Sprintf("  RTT p50/95/99: %v / %v / %v\n", m.RTTP50, m.RTTP95, m.RTTP99))
	}
	if m.Reconnects > 0 {
		sb.WriteString(fmt.Sprintf("  Reconnects:   %d\n", m.Reconnects))
	}
	if m.AgentRuns > 0 {
		sb.WriteString(fmt.Sprintf("  Agent Runs:   %d (wall mean %v | max %v)\n", m.AgentRuns, m.AgentWallMean, m.AgentWallMax))
	}
	if m.StreamsAssembled > 0 {
		sb.WriteString(fmt.Sprintf("  Streams:      %d (assembly mean %v | max %v)\n", m.StreamsAssembled, m.AssemblyMean, m.AssemblyMax))
	}
	sb.WriteString(fmt.Sprintf("  Elapsed:      %v (%.1f envelopes/s received)\n", m.Elapsed, m.Throughput))
	sb.WriteString("\n")
}

// checkMark renders a styled pass or fail mark.
func checkMark(ok bool) string {
	if ok {
		return passStyle.Render("✓")
	}
	return failStyle.Render("✗")
}

// ReportSummary writes one line per result plus totals.
func (r *Reporter) ReportSummary(results []*RunResult) error {
	if r.format == "json" {
		return r.reportJSON(results)
	}

	var sb strings.Builder
	sb.WriteString("\n" + bar + "\n")
	sb.WriteString(titleStyle.Render("  SCENARIO SWEEP") + "\n")
	sb.WriteString(bar + "\n\n")

	passed := 0
	failed := 0
	for _, result := range results {
		if result.Passed {
			sb.WriteString(fmt.Sprintf("%s  %s\n", passStyle.Render("✓ PASSED"), result.Scenario))
			passed++
		} else {
			sb.WriteString(fmt.Sprintf("%s  %s\n", failStyle.Render("✗ FAILED"), result.Scenario))
			failed++
		}
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Total: %d | Passed: %d | Failed: %d\n", len(results), passed, failed))
	sb.WriteString(bar + "\n")

	_, err := io.WriteString(r.writer, sb.String())
	return err
}

// ReportLoad writes the aggregate of a concurrent-client run.
func (r *Reporter) ReportLoad(result *LoadResult) error {
	if r.format == "json" {
		return r.reportJSON(result)
	}

	var sb strings.Builder
	sb.WriteString(bar + "\n")
	sb.WriteString(titleStyle.Render(fmt.Sprintf("  LOAD: %s × %d clients", result.Scenario, result.Clients)) + "\n")
	sb.WriteString(bar + "\n\n")

	status := passStyle.Render("✓ ALL CLIENTS PASSED")
	if result.Failed > 0 {
		status = failStyle.Render(fmt.Sprintf("✗ %d OF %d CLIENTS FAILED", result.Failed, result.Clients))
	}
	sb.WriteString(status + "\n\n")

	writeMetrics(&sb, result.Metrics)

	for _, res := range result.Results {
		if res.Passed {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", failStyle.Render("✗"), res.Thread))
		for _, reason := range res.FailureReasons {
			sb.WriteString(fmt.Sprintf("    %s\n", reason))
		}
	}

	sb.WriteString(bar + "\n")

	_, err := io.WriteString(r.writer, sb.String())
	return err
}
