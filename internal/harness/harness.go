// Package harness runs scenarios against a live chat endpoint and
// judges the transcripts they produce. It drives real WebSocket
// connections through each scenario's steps, folds what was said into a
// transcript, evaluates the scenario's checkpoints, and reports the
// outcome.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rehearsal/internal/config"
	"rehearsal/internal/fixtures"
	"rehearsal/internal/scenario"
	"rehearsal/internal/transcript"
)

// RunResult captures the outcome of running one scenario.
type RunResult struct {
	Scenario       string             `json:"scenario"`
	Target         string             `json:"target"`
	Thread         string             `json:"thread"`
	Passed         bool               `json:"passed"`
	FailureReasons []string           `json:"failureReasons,omitempty"`
	Checkpoints    []CheckpointResult `json:"checkpoints,omitempty"`
	Metrics        Metrics            `json:"metrics"`

	// Transcript is the folded record of the whole run. Excluded from
	// reports; callers that want it persisted save it themselves.
	Transcript *transcript.Transcript `json:"-"`
}

// CheckpointResult captures one checkpoint judgment.
type CheckpointResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// LoadResult aggregates a concurrent-client run of one scenario.
type LoadResult struct {
	Scenario string `json:"scenario"`
	Clients  int    `json:"clients"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`

	// Metrics aggregates every client's traffic in one collector.
	Metrics Metrics `json:"metrics"`

	Results []*RunResult `json:"results,omitempty"`
}

// Harness owns a scenario set and a target endpoint.
type Harness struct {
	target    string
	cfg       *config.Config
	logger    *zap.Logger
	reporter  *Reporter
	scenarios map[string]*scenario.Scenario
}

// New builds a harness for the WebSocket endpoint at target. The
// scenario set is the built-ins plus any YAML files under the
// configured directory; a file sharing a builtin's name replaces it. A
// configured directory that does not exist is not an error.
func New(target string, cfg *config.Config, output io.Writer, format string, logger *zap.Logger) (*Harness, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Harness{
		target:    target,
		cfg:       cfg,
		logger:    logger,
		reporter:  NewReporter(output, format),
		scenarios: make(map[string]*scenario.Scenario),
	}
	for _, sc := range scenario.Builtins() {
		h.scenarios[sc.Name] = sc
	}
	if dir := cfg.Scenarios.Dir; dir != "" {
		loaded, err := scenario.LoadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("no scenario dir", zap.String("dir", dir))
				return h, nil
			}
			return nil, err
		}
		for _, sc := range loaded {
			h.scenarios[sc.Name] = sc
		}
	}
	return h, nil
}

// ListScenarios returns the loaded scenario names, sorted.
func (h *Harness) ListScenarios() []string {
	names := make([]string, 0, len(h.scenarios))
	for name := range h.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scenario returns the named scenario, if loaded.
func (h *Harness) Scenario(name string) (*scenario.Scenario, bool) {
	sc, ok := h.scenarios[name]
	return sc, ok
}

// RunScenario runs one scenario and reports the result. Scenario
// failures live in the result; the error covers harness-level problems
// like an unknown name.
func (h *Harness) RunScenario(ctx context.Context, name string) (*RunResult, error) {
	sc, ok := h.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("scenario %q not found", name)
	}

	coll := NewCollector()
	r := newRunner(sc, h.target, h.cfg, h.logger, coll, fixtures.DefaultUser(), "")
	res := r.run(ctx)
	res.Metrics = coll.Finalize()

	h.logger.Info("scenario finished",
		zap.String("scenario", name),
		zap.Bool("passed", res.Passed),
		zap.Duration("elapsed", res.Metrics.Elapsed),
	)
	if err := h.reporter.Report(res); err != nil {
		return nil, err
	}
	return res, nil
}

// RunAll runs every loaded scenario in name order and reports a
// summary. A failing scenario does not stop the sweep.
func (h *Harness) RunAll(ctx context.Context) ([]*RunResult, error) {
	results := make([]*RunResult, 0, len(h.scenarios))
	for _, name := range h.ListScenarios() {
		sc := h.scenarios[name]
		coll := NewCollector()
		r := newRunner(sc, h.target, h.cfg, h.logger, coll, fixtures.DefaultUser(), "")
		res := r.run(ctx)
		res.Metrics = coll.Finalize()
		results = append(results, res)

		if err := ctx.Err(); err != nil {
			return results, err
		}
	}
	if err := h.reporter.ReportSummary(results); err != nil {
		return nil, err
	}
	return results, nil
}

// RunLoad runs one scenario across the configured number of concurrent
// clients. Each client gets its own synthetic user and its own thread,
// so transcripts stay disjoint; the collector is shared, so the
// reported metrics cover the whole swarm.
func (h *Harness) RunLoad(ctx context.Context, name string) (*LoadResult, error) {
	sc, ok := h.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("scenario %q not found", name)
	}

	clients := h.cfg.Harness.Clients
	if clients < 1 {
		clients = 1
	}

	coll := NewCollector()
	results := make([]*RunResult, clients)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < clients; i++ {
		i := i
		g.Go(func() error {
			thread := fmt.Sprintf("%s-%d", sc.ThreadID(), i+1)
			r := newRunner(sc, h.target, h.cfg, h.logger, coll, fixtures.UserN(i+1), thread)
			results[i] = r.run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lr := &LoadResult{
		Scenario: sc.Name,
		Clients:  clients,
		Metrics:  coll.Finalize(),
		Results:  results,
	}
	for _, res := range results {
		if res.Passed {
			lr.Passed++
		} else {
			lr.Failed++
		}
	}

	h.logger.Info("load run finished",
		zap.String("scenario", name),
		zap.Int("clients", clients),
		zap.Int("passed", lr.Passed),
		zap.Int("failed", lr.Failed),
	)
	if err := h.reporter.ReportLoad(lr); err != nil {
		return nil, err
	}
	return lr, nil
}
