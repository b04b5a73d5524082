package watcher

import (
	"fmt"
	"time"
)

// Operation is the kind of change observed on a path.
type Operation int

const (
	// OpCreated means the path now exists where it did not before.
	OpCreated Operation = iota
	// OpModified means the content or metadata of an existing path changed.
	OpModified
	// OpDeleted means the path no longer exists.
	OpDeleted
)

// String returns the lower-case operation name.
func (op Operation) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a change to one watched path.
type Event struct {
	Path      string
	Op        Operation
	Timestamp time.Time

	// Synthesized is set when the change was found by heartbeat or polling
	// rather than reported natively.
	Synthesized bool
}

// Health is the liveness of change notification for a path.
type Health string

const (
	HealthActive   Health = "ACTIVE"
	HealthDegraded Health = "DEGRADED"
	HealthPolling  Health = "POLLING"
)

// HealthEvent reports a transition of a path's watch health.
type HealthEvent struct {
	Path     string
	State    Health
	Previous Health
	At       time.Time
	// Reason is a short human-readable cause (e.g. "native watch unavailable").
	Reason string
}

// Options configures a Source.
type Options struct {
	// Debounce coalesces raw notifications per path before emission.
	// Default: 100ms
	Debounce time.Duration

	// PollInterval is the stat interval for paths in POLLING.
	// Default: 2s
	PollInterval time.Duration

	// HeartbeatInterval is the stat interval used to verify native events.
	// Default: 1s
	HeartbeatInterval time.Duration

	// MissedHeartbeats consecutive misses move a path to DEGRADED.
	// Default: 3
	MissedHeartbeats int

	// DegradedGrace is how long a path stays DEGRADED before POLLING.
	// Default: 5s
	DegradedGrace time.Duration

	// EventBufferSize is the capacity of the Events and Health channels.
	// Default: 1000
	EventBufferSize int

	// ForcePolling disables native notification for every path.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:          100 * time.Millisecond,
		PollInterval:      2 * time.Second,
		HeartbeatInterval: time.Second,
		MissedHeartbeats:  3,
		DegradedGrace:     5 * time.Second,
		EventBufferSize:   1000,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.MissedHeartbeats <= 0 {
		o.MissedHeartbeats = d.MissedHeartbeats
	}
	if o.DegradedGrace <= 0 {
		o.DegradedGrace = d.DegradedGrace
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// Validate rejects negative settings.
func (o Options) Validate() error {
	if o.Debounce < 0 || o.PollInterval < 0 || o.HeartbeatInterval < 0 || o.DegradedGrace < 0 {
		return fmt.Errorf("watcher durations must not be negative")
	}
	if o.MissedHeartbeats < 0 || o.EventBufferSize < 0 {
		return fmt.Errorf("watcher counts must not be negative")
	}
	return nil
}
