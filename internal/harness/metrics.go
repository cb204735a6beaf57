package harness

import (
	"sort"
	"sync"
	"time"
)

// Collector accumulates counts and latency samples while scenarios run.
// Load runs share one collector across every client, so all methods are
// safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	start time.Time

	roundTrips []time.Duration
	agentWall  []time.Duration
	assembly   []time.Duration
	sent       int
	received   int
	reconnects int
}

// NewCollector creates a collector whose elapsed clock starts now.
func NewCollector() *Collector {
	return &Collector{
		start:      time.Now(),
		roundTrips: make([]time.Duration, 0),
	}
}

// RecordRoundTrip records the latency between a send step and the
// expectation it satisfied.
func (c *Collector) RecordRoundTrip(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roundTrips = append(c.roundTrips, d)
}

// RecordSent counts one envelope written to the connection.
func (c *Collector) RecordSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
}

// RecordReceived counts envelopes read off the connection.
func (c *Collector) RecordReceived(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received += n
}

// RecordReconnect counts a deliberate drop-and-redial.
func (c *Collector) RecordReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

// RecordAgentRun records the wall time of one terminated agent run.
func (c *Collector) RecordAgentRun(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentWall = append(c.agentWall, d)
}

// RecordStreamAssembly records first-chunk-to-final-message time for
// one assembled stream.
func (c *Collector) RecordStreamAssembly(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assembly = append(c.assembly, d)
}

// Finalize computes aggregate metrics over everything recorded so far.
func (c *Collector) Finalize() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		EnvelopesSent:     c.sent,
		EnvelopesReceived: c.received,
		RoundTrips:        len(c.roundTrips),
		Reconnects:        c.reconnects,
		Elapsed:           time.Since(c.start),
	}

	if len(c.roundTrips) > 0 {
		sorted := make([]time.Duration, len(c.roundTrips))
		copy(sorted, c.roundTrips)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		m.RTTMean = sum / time.Duration(len(sorted))
		m.RTTMin = sorted[0]
		m.RTTMax = sorted[len(sorted)-1]
		m.RTTP50 = percentile(sorted, 50)
		m.RTTP95 = percentile(sorted, 95)
		m.RTTP99 = percentile(sorted, 99)
	}

	m.AgentRuns = len(c.agentWall)
	m.AgentWallMean, m.AgentWallMax = summarize(c.agentWall)
	m.StreamsAssembled = len(c.assembly)
	m.AssemblyMean, m.AssemblyMax = summarize(c.assembly)

	if secs := m.Elapsed.Seconds(); secs > 0 {
		m.Throughput = float64(c.received) / secs
	}
	return m
}

// summarize reduces a sample set to its mean and max.
func summarize(samples []time.Duration) (mean, max time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
		if d > max {
			max = d
		}
	}
	return sum / time.Duration(len(samples)), max
}

// Metrics represents measured performance for a run.
type Metrics struct {
	EnvelopesSent     int `json:"envelopesSent"`
	EnvelopesReceived int `json:"envelopesReceived"`
	RoundTrips        int `json:"roundTrips"`
	Reconnects        int `json:"reconnects"`

	RTTMin  time.Duration `json:"rttMin"`
	RTTMax  time.Duration `json:"rttMax"`
	RTTMean time.Duration `json:"rttMean"`
	RTTP50  time.Duration `json:"rttP50"`
	RTTP95  time.Duration `json:"rttP95"`
	RTTP99  time.Duration `json:"rttP99"`

	AgentRuns     int           `json:"agentRuns"`
	AgentWallMean time.Duration `json:"agentWallMean"`
	AgentWallMax  time.Duration `json:"agentWallMax"`

	StreamsAssembled int           `json:"streamsAssembled"`
	AssemblyMean     time.Duration `json:"assemblyMean"`
	AssemblyMax      time.Duration `json:"assemblyMax"`

	Elapsed time.Duration `json:"elapsed"`

	// Throughput is received envelopes per second over the elapsed window.
	Throughput float64 `json:"receivedPerSecond"`
}

// percentile picks from an ascending sample by the nearest-rank rule.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
