// Package healthprobe checks a chat platform's health endpoint from the
// outside. Beyond the status code it inspects the raw body for the
// encoding damage deployments have actually shipped: mojibake from
// double-encoded UTF-8, replacement characters, and truncated JSON.
package healthprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Status classifies what the endpoint reported.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const maxBodySize = 1 << 20

// knownCorruptions are byte sequences that only appear when a UTF-8
// payload has been decoded as Latin-1 somewhere along the way. A clean
// health body never contains them.
var knownCorruptions = []string{
	"ï¿½", // U+FFFD itself, double-encoded
	"â€™", // right single quote
	"â€œ", // left double quote
	"Ã©",  // é
}

// Report is the outcome of one probe.
type Report struct {
	Status      Status        `json:"status"`
	HTTPCode    int           `json:"httpCode,omitempty"`
	Version     string        `json:"version,omitempty"`
	Uptime      string        `json:"uptime,omitempty"`
	Connections int           `json:"connections"`
	Latency     time.Duration `json:"latency"`
	Problems    []string      `json:"problems,omitempty"`
	CheckedAt   time.Time     `json:"checkedAt"`
}

// Healthy reports whether the endpoint answered ok with a clean body.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy && len(r.Problems) == 0
}

// Prober issues health checks against a base URL.
type Prober struct {
	client *http.Client
	logger *zap.Logger
	path   string
}

// Option configures a Prober.
type Option func(*Prober)

// WithClient swaps the HTTP client, usually for tests.
func WithClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Prober) { p.logger = logger }
}

// WithPath overrides the health endpoint path.
func WithPath(path string) Option {
	return func(p *Prober) { p.path = path }
}

// New creates a prober for /healthz with a short-timeout client.
func New(opts ...Option) *Prober {
	p := &Prober{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: zap.NewNop(),
		path:   "/healthz",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// healthPayload is the decoded body. Connections is a pointer so a
// missing field and a zero are distinguishable.
type healthPayload struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Connections *int   `json:"connections"`
}

// Probe GETs the health endpoint once. The error covers transport
// failures only; a reachable endpoint with a rotten body comes back as
// a Report with Problems and a nil error.
func (p *Prober) Probe(ctx context.Context, baseURL string) (Report, error) {
	report := Report{Status: StatusDown, CheckedAt: time.Now().UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+p.path, nil)
	if err != nil {
		return report, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	report.Latency = time.Since(start)
	if err != nil {
		p.logger.Warn("health probe failed", zap.String("url", baseURL), zap.Error(err))
		return report, err
	}
	defer resp.Body.Close()

	report.HTTPCode = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return report, fmt.Errorf("reading health body: %w", err)
	}

	report.Problems = CorruptionProblems(body)

	var payload healthPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("body is not JSON: %v", err))
	} else {
		report.Version = payload.Version
		report.Uptime = payload.Uptime
		if payload.Connections != nil {
			report.Connections = *payload.Connections
			if *payload.Connections < 0 {
				report.Problems = append(report.Problems, fmt.Sprintf("connections out of range: %d", *payload.Connections))
			}
		}
	}

	report.Status = classify(resp.StatusCode, payload.Status)
	return report, nil
}

func classify(code int, status string) Status {
	switch {
	case code == http.StatusOK && status == "ok":
		return StatusHealthy
	case code == http.StatusOK || code == http.StatusServiceUnavailable:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// CorruptionProblems inspects raw bytes for encoding damage.
func CorruptionProblems(body []byte) []string {
	var problems []string
	if !utf8.Valid(body) {
		problems = append(problems, "body is not valid UTF-8")
	}
	if bytes.ContainsRune(body, utf8.RuneError) {
		problems = append(problems, "body contains replacement characters")
	}
	if bytes.IndexByte(body, 0) >= 0 {
		problems = append(problems, "body contains NUL bytes")
	}
	for _, bad := range knownCorruptions {
		if bytes.Contains(body, []byte(bad)) {
			problems = append(problems, fmt.Sprintf("body contains known corrupted sequence %q", bad))
		}
	}
	return problems
}

// Watch probes every interval until the context ends, delivering each
// report on the returned channel. The channel closes on the way out.
func (p *Prober) Watch(ctx context.Context, baseURL string, interval time.Duration) <-chan Report {
	ch := make(chan Report)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			report, _ := p.Probe(ctx, baseURL)
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- report:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
