package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
)

var t0 = time.Unix(1_700_000_000, 0)

func modified(path string, at time.Time) *conflict.Conflict {
	return conflict.New(path, conflict.KindExternalModified, conflict.SeverityInfo, at)
}

func TestQueue_BurstCoalescesIntoOneConflict(t *testing.T) {
	// Given: a queue with a 300ms debounce
	q := New(300*time.Millisecond, 3)

	// When: ten detections arrive 50ms apart
	var coalesced int
	for i := 0; i < 10; i++ {
		if q.Push(modified("/docs/a.md", t0.Add(time.Duration(i)*50*time.Millisecond)),
			t0.Add(time.Duration(i)*50*time.Millisecond)) {
			coalesced++
		}
	}

	// Then: they form a single entry
	assert.Equal(t, 9, coalesced)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, 9, q.Pending()[0].CoalesceCount)

	// And: nothing drains before the trailing deadline
	last := t0.Add(450 * time.Millisecond)
	assert.Empty(t, q.Drain(last.Add(299*time.Millisecond)))

	// And: exactly one conflict drains after it
	out := q.Drain(last.Add(300 * time.Millisecond))
	require.Len(t, out, 1)
	assert.Equal(t, "/docs/a.md", out[0].Path)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_SeparateBurstsYieldSeparateConflicts(t *testing.T) {
	q := New(100*time.Millisecond, 3)

	q.Push(modified("/a.md", t0), t0)
	first := q.Drain(t0.Add(time.Second))
	require.Len(t, first, 1)
	q.Complete("/a.md")

	q.Push(modified("/a.md", t0.Add(2*time.Second)), t0.Add(2*time.Second))
	second := q.Drain(t0.Add(3 * time.Second))
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestQueue_SeverityOnlyUpgrades(t *testing.T) {
	// Given: a pending blocking conflict
	q := New(time.Second, 3)
	blocking := conflict.New("/a.md", conflict.KindUnsavedVsExternal, conflict.SeverityBlocking, t0)
	q.Push(blocking, t0)

	// When: a lower-severity detection coalesces
	q.Push(modified("/a.md", t0.Add(time.Millisecond)), t0.Add(time.Millisecond))

	// Then: the entry keeps blocking severity and kind
	e := q.Pending()[0]
	assert.Equal(t, conflict.SeverityBlocking, e.Conflict.Severity)
	assert.Equal(t, conflict.KindUnsavedVsExternal, e.Conflict.Kind)
	assert.Equal(t, t0.Add(time.Millisecond), e.Conflict.DetectedAt)

	// When: a higher-severity detection coalesces into an info entry
	q2 := New(time.Second, 3)
	q2.Push(modified("/b.md", t0), t0)
	upgraded := conflict.New("/b.md", conflict.KindUnsavedVsExternal, conflict.SeverityBlocking, t0)
	q2.Push(upgraded, t0)

	// Then: the entry becomes the newer detection
	assert.Equal(t, upgraded.ID, q2.Pending()[0].Conflict.ID)
}

func TestQueue_BackupEntryIsNotReplacedByLiveDetection(t *testing.T) {
	q := New(time.Second, 3)
	backup := conflict.ForBackup("/a.md", t0.Add(-time.Hour), t0)
	q.Push(backup, t0)

	live := conflict.New("/a.md", conflict.KindUnsavedVsExternal, conflict.SeverityBlocking, t0)
	q.Push(live, t0)

	assert.Equal(t, conflict.SourceBackup, q.Pending()[0].Conflict.Source)
}

func TestQueue_CapacityKeepsExcessInArrivalOrder(t *testing.T) {
	// Given: capacity of two and four distinct paths
	q := New(10*time.Millisecond, 2)
	for i, p := range []string{"/d.md", "/b.md", "/a.md", "/c.md"} {
		q.Push(modified(p, t0), t0.Add(time.Duration(i)*time.Millisecond))
	}
	later := t0.Add(time.Second)

	// When: draining
	first := q.Drain(later)

	// Then: the two earliest arrivals are handed out
	require.Len(t, first, 2)
	assert.Equal(t, "/d.md", first[0].Path)
	assert.Equal(t, "/b.md", first[1].Path)
	assert.Empty(t, q.Drain(later))
	assert.Equal(t, 2, q.Len())

	// When: one resolves
	q.Complete("/d.md")

	// Then: the next in arrival order follows
	next := q.Drain(later)
	require.Len(t, next, 1)
	assert.Equal(t, "/a.md", next[0].Path)
}

func TestQueue_InFlightPathWaits(t *testing.T) {
	// Given: an in-flight conflict for a path
	q := New(10*time.Millisecond, 3)
	q.Push(modified("/a.md", t0), t0)
	require.Len(t, q.Drain(t0.Add(time.Second)), 1)

	// When: the path is detected again
	coalesced := q.Push(modified("/a.md", t0.Add(time.Second)), t0.Add(time.Second))

	// Then: it is a fresh pending entry that waits for the in-flight one
	assert.False(t, coalesced)
	assert.True(t, q.HasPending("/a.md"))
	assert.Empty(t, q.Drain(t0.Add(time.Minute)))
	_, ok := q.NextDeadline()
	assert.False(t, ok)

	q.Complete("/a.md")
	assert.Len(t, q.Drain(t0.Add(time.Minute)), 1)
}

func TestQueue_CancelOnlyTouchesPending(t *testing.T) {
	q := New(10*time.Millisecond, 3)
	q.Push(modified("/a.md", t0), t0)
	require.Len(t, q.Drain(t0.Add(time.Second)), 1)
	q.Push(modified("/a.md", t0.Add(time.Second)), t0.Add(time.Second))

	assert.True(t, q.Cancel("/a.md"))
	assert.False(t, q.Cancel("/a.md"))
	assert.False(t, q.HasPending("/a.md"))

	_, inFlight := q.InFlightFor("/a.md")
	assert.True(t, inFlight)

	q.CancelAll("/a.md")
	_, inFlight = q.InFlightFor("/a.md")
	assert.False(t, inFlight)
	assert.False(t, q.Complete("/a.md"))
}

func TestQueue_RequeuePresentsAgain(t *testing.T) {
	// Given: an in-flight conflict
	q := New(50*time.Millisecond, 3)
	c := modified("/a.md", t0)
	q.Push(c, t0)
	out := q.Drain(t0.Add(time.Second))
	require.Len(t, out, 1)

	found, ok := q.Lookup(c.ID)
	require.True(t, ok)
	assert.Equal(t, c, found)

	// When: it is requeued
	q.Requeue(c, t0.Add(2*time.Second))

	// Then: it is pending again with a fresh deadline
	assert.Empty(t, q.InFlight())
	deadline, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Second+50*time.Millisecond), deadline)

	again := q.Drain(deadline)
	require.Len(t, again, 1)
	assert.Equal(t, c.ID, again[0].ID)
}

func TestQueue_NextDeadlineIsEarliest(t *testing.T) {
	q := New(100*time.Millisecond, 3)
	q.Push(modified("/b.md", t0), t0.Add(50*time.Millisecond))
	q.Push(modified("/a.md", t0), t0)

	d, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(100*time.Millisecond), d)
}

func TestQueue_NilPushAndMinimumCapacity(t *testing.T) {
	q := New(0, 0)
	assert.False(t, q.Push(nil, t0))

	q.Push(modified("/a.md", t0), t0)
	q.Push(modified("/b.md", t0), t0)
	assert.Len(t, q.Drain(t0), 1)
}

func TestQueue_PendingFor(t *testing.T) {
	q := New(time.Second, 1)
	c := modified("/a.md", t0)
	q.Push(c, t0)

	got, ok := q.PendingFor("/a.md")
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)

	_, ok = q.PendingFor("/b.md")
	assert.False(t, ok)
}
