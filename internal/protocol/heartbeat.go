package protocol

import "time"

// Heartbeat describes the ping cadence a connection keeps and how long a
// silent peer is tolerated before it is declared gone.
type Heartbeat struct {
	Interval time.Duration
	Grace    time.Duration
}

// DefaultHeartbeat matches the platform's 30s ping / 10s grace settings.
func DefaultHeartbeat() Heartbeat {
	return Heartbeat{Interval: 30 * time.Second, Grace: 10 * time.Second}
}

// Due reports whether a ping should be sent given the time of the last one.
func (h Heartbeat) Due(lastPing, now time.Time) bool {
	return now.Sub(lastPing) >= h.Interval
}

// Deadline returns the instant after which a peer last seen at lastSeen is
// considered dead.
func (h Heartbeat) Deadline(lastSeen time.Time) time.Time {
	return lastSeen.Add(h.Interval + h.Grace)
}

// Missed returns how many full ping intervals have elapsed without traffic.
func (h Heartbeat) Missed(lastSeen, now time.Time) int {
	if h.Interval <= 0 {
		return 0
	}
	elapsed := now.Sub(lastSeen)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / h.Interval)
}
