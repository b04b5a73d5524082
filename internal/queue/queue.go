// Package queue holds detected conflicts until the resolution surface is
// ready for them.
//
// Each path has at most one pending entry and at most one in-flight
// conflict. Re-detections of a pending path coalesce into its entry and
// push its trailing debounce deadline out; severity only ever rises on
// coalesce. Drain hands out ready entries in arrival order, bounded by the
// configured concurrency, and skips paths whose previous conflict is still
// in flight. Nothing is ever dropped.
//
// Queue carries no lock. Its owner serialises access.
package queue

import (
	"sort"
	"time"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
)

// Entry is a pending conflict awaiting presentation.
type Entry struct {
	Conflict         *conflict.Conflict `json:"conflict"`
	DebounceDeadline time.Time          `json:"debounce_deadline"`
	// CoalesceCount is the number of detections merged into this entry
	// beyond the first.
	CoalesceCount int `json:"coalesce_count"`

	seq uint64
}

// Queue is a debounced, capacity-bounded conflict queue.
type Queue struct {
	delay         time.Duration
	maxConcurrent int

	pending  map[string]*Entry
	inFlight map[string]*conflict.Conflict
	seq      uint64
}

// New creates a queue. maxConcurrent below one is treated as one.
func New(delay time.Duration, maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		delay:         delay,
		maxConcurrent: maxConcurrent,
		pending:       make(map[string]*Entry),
		inFlight:      make(map[string]*conflict.Conflict),
	}
}

// Push adds a detection. It returns true when the detection coalesced into
// an existing pending entry for the same path.
func (q *Queue) Push(c *conflict.Conflict, now time.Time) bool {
	if c == nil {
		return false
	}
	if e, ok := q.pending[c.Path]; ok {
		e.Conflict = merge(e.Conflict, c)
		e.DebounceDeadline = now.Add(q.delay)
		e.CoalesceCount++
		return true
	}

	q.seq++
	q.pending[c.Path] = &Entry{
		Conflict:         c,
		DebounceDeadline: now.Add(q.delay),
		seq:              q.seq,
	}
	return false
}

// merge keeps the latest detection unless it would lower the severity or
// replace a recovered backup with a live detection.
func merge(prev, next *conflict.Conflict) *conflict.Conflict {
	if prev.Source == conflict.SourceBackup && next.Source != conflict.SourceBackup {
		return prev
	}
	if next.Severity >= prev.Severity {
		return next
	}
	return prev.With(prev.Severity, next.DetectedAt)
}

// Drain moves ready entries to in-flight and returns them in arrival order.
func (q *Queue) Drain(now time.Time) []*conflict.Conflict {
	slots := q.maxConcurrent - len(q.inFlight)
	if slots <= 0 {
		return nil
	}

	var out []*conflict.Conflict
	for _, e := range q.ordered() {
		if len(out) == slots {
			break
		}
		path := e.Conflict.Path
		if _, busy := q.inFlight[path]; busy {
			continue
		}
		if now.Before(e.DebounceDeadline) {
			continue
		}
		delete(q.pending, path)
		q.inFlight[path] = e.Conflict
		out = append(out, e.Conflict)
	}
	return out
}

// Complete releases the in-flight conflict for path.
func (q *Queue) Complete(path string) bool {
	if _, ok := q.inFlight[path]; !ok {
		return false
	}
	delete(q.inFlight, path)
	return true
}

// Cancel removes the pending entry for path. In-flight conflicts are not
// affected.
func (q *Queue) Cancel(path string) bool {
	if _, ok := q.pending[path]; !ok {
		return false
	}
	delete(q.pending, path)
	return true
}

// CancelAll removes both the pending entry and the in-flight conflict.
func (q *Queue) CancelAll(path string) {
	delete(q.pending, path)
	delete(q.inFlight, path)
}

// Requeue returns an in-flight conflict to pending so it is presented again.
func (q *Queue) Requeue(c *conflict.Conflict, now time.Time) {
	if cur, ok := q.inFlight[c.Path]; ok && cur.ID == c.ID {
		delete(q.inFlight, c.Path)
	}
	q.Push(c, now)
}

// Lookup finds an in-flight conflict by ID.
func (q *Queue) Lookup(id string) (*conflict.Conflict, bool) {
	for _, c := range q.inFlight {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// InFlightFor returns the in-flight conflict for path.
func (q *Queue) InFlightFor(path string) (*conflict.Conflict, bool) {
	c, ok := q.inFlight[path]
	return c, ok
}

// PendingFor returns the conflict of the pending entry for path.
func (q *Queue) PendingFor(path string) (*conflict.Conflict, bool) {
	e, ok := q.pending[path]
	if !ok {
		return nil, false
	}
	return e.Conflict, true
}

// HasPending reports whether path has a pending entry.
func (q *Queue) HasPending(path string) bool {
	_, ok := q.pending[path]
	return ok
}

// NextDeadline returns the earliest deadline among entries Drain could
// hand out once it passes.
func (q *Queue) NextDeadline() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for path, e := range q.pending {
		if _, busy := q.inFlight[path]; busy {
			continue
		}
		if !found || e.DebounceDeadline.Before(next) {
			next = e.DebounceDeadline
			found = true
		}
	}
	return next, found
}

// Pending returns copies of pending entries in arrival order.
func (q *Queue) Pending() []Entry {
	ordered := q.ordered()
	out := make([]Entry, len(ordered))
	for i, e := range ordered {
		out[i] = *e
	}
	return out
}

// InFlight returns in-flight conflicts sorted by path.
func (q *Queue) InFlight() []*conflict.Conflict {
	out := make([]*conflict.Conflict, 0, len(q.inFlight))
	for _, c := range q.inFlight {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of pending entries.
func (q *Queue) Len() int { return len(q.pending) }

func (q *Queue) ordered() []*Entry {
	out := make([]*Entry, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
