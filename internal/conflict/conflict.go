// Package conflict defines the Conflict model and the classifier that
// decides whether a file's disk state diverges from its accepted state.
package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/mdsentry/internal/depgraph"
)

// Kind identifies what diverged.
type Kind string

const (
	KindExternalModified  Kind = "external-modified"
	KindExternalDeleted   Kind = "external-deleted"
	KindCreatedCollision  Kind = "external-created-collision"
	KindUnsavedVsExternal Kind = "internal-unsaved-vs-external"
	KindPermissionDenied  Kind = "permission-denied"
	KindWatchFailure      Kind = "watch-failure"
	KindCircular          Kind = "circular-dependency"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{
	KindUnsavedVsExternal,
	KindExternalDeleted,
	KindExternalModified,
	KindCreatedCollision,
	KindCircular,
	KindPermissionDenied,
	KindWatchFailure,
}

// Severity orders conflicts: info < warning < blocking.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityBlocking
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "blocking":
		*s = SeverityBlocking
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// Source tells whether the "mine" side of a conflict is live editor memory
// or an emergency backup recovered after a crash.
type Source string

const (
	SourceLive   Source = "live"
	SourceBackup Source = "backup"
)

// Conflict is one detected divergence. It is immutable once created and
// consumed by exactly one resolution.
type Conflict struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Kind       Kind      `json:"kind"`
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
	Source     Source    `json:"source"`

	// RelatedEdges are the include edges touching Path when it was detected.
	RelatedEdges []depgraph.Edge `json:"related_edges,omitempty"`

	// Cycle is the rejected cycle for circular-dependency conflicts.
	Cycle *depgraph.Cycle `json:"cycle,omitempty"`

	// CollidesWith is the tracked path holding the same slot (collisions).
	CollidesWith string `json:"collides_with,omitempty"`

	// DiskHash is the content hash seen on disk at detection time.
	DiskHash string `json:"disk_hash,omitempty"`

	// BackupAt is the snapshot time for backup-sourced conflicts.
	BackupAt time.Time `json:"backup_at,omitempty"`

	// Cause carries the underlying error text for permission conflicts.
	Cause string `json:"cause,omitempty"`
}

// New creates a live conflict with a fresh ID.
func New(path string, kind Kind, severity Severity, now time.Time) *Conflict {
	return &Conflict{
		ID:         uuid.NewString(),
		Path:       path,
		Kind:       kind,
		Severity:   severity,
		DetectedAt: now,
		Source:     SourceLive,
	}
}

// ForCycle creates a blocking circular-dependency conflict for a rejected edge.
// The conflict is keyed by the file whose parse produced the edge.
func ForCycle(c depgraph.Cycle, now time.Time) *Conflict {
	out := New(c.Edge.From, KindCircular, SeverityBlocking, now)
	cycle := c
	cycle.Members = append([]string(nil), c.Members...)
	out.Cycle = &cycle
	return out
}

// ForBackup creates the conflict that offers an emergency backup for restore.
func ForBackup(path string, snapshotAt, now time.Time) *Conflict {
	out := New(path, KindUnsavedVsExternal, SeverityBlocking, now)
	out.Source = SourceBackup
	out.BackupAt = snapshotAt
	return out
}

// With returns a copy carrying a new ID, detection time and severity,
// used when a pending entry absorbs a newer detection.
func (c *Conflict) With(severity Severity, detectedAt time.Time) *Conflict {
	out := *c
	out.ID = uuid.NewString()
	out.Severity = severity
	out.DetectedAt = detectedAt
	return &out
}

// Summary is a one-line description for prompts and logs.
func (c *Conflict) Summary() string {
	switch c.Kind {
	case KindExternalModified:
		return "changed on disk"
	case KindExternalDeleted:
		return "deleted on disk"
	case KindCreatedCollision:
		return "new file collides with " + c.CollidesWith
	case KindUnsavedVsExternal:
		if c.Source == SourceBackup {
			return "unsaved changes recovered from " + c.BackupAt.Format(time.RFC3339)
		}
		return "changed on disk while you have unsaved edits"
	case KindPermissionDenied:
		return "permission denied"
	case KindWatchFailure:
		return "change notification unavailable, now polling"
	case KindCircular:
		if c.Cycle != nil && len(c.Cycle.Members) > 0 {
			loop := make([]string, 0, len(c.Cycle.Members)+1)
			loop = append(loop, c.Cycle.Members...)
			loop = append(loop, c.Cycle.Members[0])
			return "include cycle: " + strings.Join(loop, " -> ")
		}
		return "include cycle"
	default:
		return string(c.Kind)
	}
}
