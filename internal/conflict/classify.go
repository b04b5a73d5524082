package conflict

import (
	"os"
	"time"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/watcher"
)

const permissionCode = serrors.ErrCodeFilePermission

// Signals carries the context a bare disk stat cannot express.
type Signals struct {
	// Appeared is set when the path was just created or just discovered
	// as an include target.
	Appeared bool

	// SlotHolder is the tracked record occupying the same logical slot
	// under a different spelling, if any.
	SlotHolder *filestate.Record

	// Health is the watch health of the path.
	Health watcher.Health

	// FirstSinceSwitch is set until a watch-failure has been reported for
	// the current POLLING period.
	FirstSinceSwitch bool
}

// Classifier turns observations into conflicts.
type Classifier struct {
	now func() time.Time
}

// NewClassifier returns a classifier stamping conflicts with now().
func NewClassifier(now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{now: now}
}

// Classify applies the decision table in precedence order and returns the
// first matching conflict, or nil.
//
// Transient read failures yield nil; escalation of persistent failures is
// the caller's business. A record that was never committed has no content
// to diverge from, so rules 3 and 4 do not apply to it.
func (c *Classifier) Classify(path string, rec *filestate.Record, disk DiskStat, sig Signals) *Conflict {
	now := c.now()
	readable := disk.Err == nil

	switch {
	case readable && !disk.Exists && rec != nil && rec.Unsaved:
		return New(path, KindExternalDeleted, SeverityBlocking, now)

	case readable && !disk.Exists && rec != nil:
		return New(path, KindExternalDeleted, SeverityWarning, now)

	case readable && disk.Exists && rec != nil && rec.Known() && disk.Hash != rec.ContentHash && rec.Unsaved:
		out := New(path, KindUnsavedVsExternal, SeverityBlocking, now)
		out.DiskHash = disk.Hash
		return out

	case readable && disk.Exists && rec != nil && rec.Known() && disk.Hash != rec.ContentHash:
		out := New(path, KindExternalModified, SeverityInfo, now)
		out.DiskHash = disk.Hash
		return out

	case readable && disk.Exists && sig.Appeared && collides(sig.SlotHolder, disk.Info):
		out := New(path, KindCreatedCollision, SeverityWarning, now)
		out.CollidesWith = sig.SlotHolder.Path
		out.DiskHash = disk.Hash
		return out

	case disk.Err != nil && disk.Err.Code == permissionCode:
		out := New(path, KindPermissionDenied, SeverityBlocking, now)
		out.Cause = disk.Err.Error()
		return out

	case sig.Health == watcher.HealthPolling && sig.FirstSinceSwitch:
		return New(path, KindWatchFailure, SeverityInfo, now)
	}
	return nil
}

// collides reports whether holder is a distinct file from the one at info.
// On case-insensitive filesystems both spellings stat to the same file,
// which is not a collision.
func collides(holder *filestate.Record, info os.FileInfo) bool {
	if holder == nil {
		return false
	}
	if known := holder.Identity(); known != nil && info != nil && os.SameFile(known, info) {
		return false
	}
	return true
}
