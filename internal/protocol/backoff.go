package protocol

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: the base delay doubles per attempt up
// to Max. With Jitter > 0 a random fraction of the delay is shaved off so
// a fleet of clients does not reconnect in lockstep.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1, fraction of the delay that may be removed

	// rand source for jitter, injectable for deterministic tests.
	Rand func() float64
}

// DefaultBackoff matches the web client's reconnect settings.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	if b.Jitter > 0 {
		j := b.Jitter
		if j > 1 {
			j = 1
		}
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d -= time.Duration(float64(d) * j * r())
	}
	return d
}
