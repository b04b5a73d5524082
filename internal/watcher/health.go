package watcher

import "time"

// Tracker is the per-path health state machine. It holds no clock and no
// lock; callers pass the current time and serialize access.
//
//	ACTIVE --(threshold misses)--> DEGRADED --(grace elapsed)--> POLLING
//	   ^------------(hit)--------------'
//
// POLLING is left only through Reset (an explicit native retry).
type Tracker struct {
	threshold int
	grace     time.Duration

	state      Health
	misses     int
	degradedAt time.Time
}

// NewTracker creates a tracker in ACTIVE.
func NewTracker(threshold int, grace time.Duration) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{threshold: threshold, grace: grace, state: HealthActive}
}

// State returns the current health.
func (t *Tracker) State() Health { return t.state }

// Misses returns the current run of consecutive misses.
func (t *Tracker) Misses() int { return t.misses }

// Miss records a missed heartbeat. It reports whether the state changed.
func (t *Tracker) Miss(now time.Time) bool {
	if t.state == HealthPolling {
		return false
	}
	t.misses++
	if t.state == HealthActive && t.misses >= t.threshold {
		t.state = HealthDegraded
		t.degradedAt = now
		return true
	}
	return false
}

// Hit records a heartbeat confirmed by native notification.
func (t *Tracker) Hit() bool {
	t.misses = 0
	if t.state == HealthDegraded {
		t.state = HealthActive
		t.degradedAt = time.Time{}
		return true
	}
	return false
}

// Tick advances time-based transitions.
func (t *Tracker) Tick(now time.Time) bool {
	if t.state == HealthDegraded && now.Sub(t.degradedAt) >= t.grace {
		t.state = HealthPolling
		return true
	}
	return false
}

// ForcePolling moves straight to POLLING.
func (t *Tracker) ForcePolling() bool {
	if t.state == HealthPolling {
		return false
	}
	t.state = HealthPolling
	t.misses = 0
	return true
}

// Reset returns to ACTIVE with no misses.
func (t *Tracker) Reset() bool {
	changed := t.state != HealthActive
	t.state = HealthActive
	t.misses = 0
	t.degradedAt = time.Time{}
	return changed
}
