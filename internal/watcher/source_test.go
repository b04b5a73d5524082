package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInfo struct {
	name string
	size int64
	mod  time.Time
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeInfo) ModTime() time.Time { return f.mod }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

// fakeStat is an in-memory stat table.
type fakeStat struct {
	mu    sync.Mutex
	files map[string]fakeInfo
}

func newFakeStat() *fakeStat { return &fakeStat{files: make(map[string]fakeInfo)} }

func (f *fakeStat) set(path string, size int64, mod time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = fakeInfo{name: filepath.Base(path), size: size, mod: mod}
}

func (f *fakeStat) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func (f *fakeStat) stat(path string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testOptions() Options {
	return Options{
		Debounce:          5 * time.Millisecond,
		PollInterval:      2 * time.Second,
		HeartbeatInterval: time.Second,
		MissedHeartbeats:  2,
		DegradedGrace:     5 * time.Second,
		EventBufferSize:   64,
	}
}

func newManualSource(t *testing.T, native bool) (*Source, *fakeStat, *manualClock) {
	t.Helper()
	fst := newFakeStat()
	clock := &manualClock{now: time.Unix(10_000, 0)}
	deps := sourceDeps{now: clock.Now, stat: fst.stat, manual: true}
	if !native {
		deps.notify = func() (*fsnotify.Watcher, error) {
			return nil, errors.New("inotify unavailable")
		}
	}
	src := newSource(testOptions(), deps)
	t.Cleanup(func() { _ = src.Close() })
	return src, fst, clock
}

func receiveHealth(t *testing.T, src *Source) HealthEvent {
	t.Helper()
	select {
	case ev := <-src.Health():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for health event")
		return HealthEvent{}
	}
}

func TestSource_NativeUnavailable_StartsPolling(t *testing.T) {
	// Given: a source without native notification
	src, _, _ := newManualSource(t, false)
	path := filepath.Join(t.TempDir(), "board.md")

	// When: a path is started
	h, err := src.Start(path)
	require.NoError(t, err)
	assert.Equal(t, path, h.Path())

	// Then: it is POLLING and a transition is reported
	state, ok := src.State(path)
	require.True(t, ok)
	assert.Equal(t, HealthPolling, state)

	ev := receiveHealth(t, src)
	assert.Equal(t, HealthActive, ev.Previous)
	assert.Equal(t, HealthPolling, ev.State)
	assert.NotEmpty(t, ev.Reason)
}

func TestSource_StartDoesNotBlockOnFullHealthChannel(t *testing.T) {
	// Given: a polling-only source whose health channel holds two transitions
	fst := newFakeStat()
	clock := &manualClock{now: time.Unix(10_000, 0)}
	deps := sourceDeps{now: clock.Now, stat: fst.stat, manual: true,
		notify: func() (*fsnotify.Watcher, error) { return nil, errors.New("inotify unavailable") }}
	opts := testOptions()
	opts.EventBufferSize = 2
	src := newSource(opts, deps)
	t.Cleanup(func() { _ = src.Close() })
	dir := t.TempDir()

	// When: more paths start than the channel holds and nobody drains it
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_, err := src.Start(filepath.Join(dir, fmt.Sprintf("doc%d.md", i)))
			assert.NoError(t, err)
		}
	}()

	// Then: every Start returns and each path still reports POLLING
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start blocked on a full health channel")
	}
	for i := 0; i < 5; i++ {
		state, ok := src.State(filepath.Join(dir, fmt.Sprintf("doc%d.md", i)))
		require.True(t, ok)
		assert.Equal(t, HealthPolling, state)
	}
	assert.Len(t, src.Health(), 2)
}

func TestSource_Polling_DetectsCreateModifyDelete(t *testing.T) {
	// Given: a polling source watching a missing path
	src, fst, clock := newManualSource(t, false)
	path := filepath.Join(t.TempDir(), "board.md")
	_, err := src.Start(path)
	require.NoError(t, err)
	receiveHealth(t, src)

	// When: the file appears and the poll interval passes
	fst.set(path, 10, clock.Now())
	clock.Advance(2 * time.Second)
	src.poll()

	// Then: a created event is emitted
	batch := receiveBatch(t, src.Events(), time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreated, batch[0].Op)
	assert.True(t, batch[0].Synthesized)

	// When: it changes but the interval has not elapsed
	fst.set(path, 20, clock.Now())
	clock.Advance(time.Second)
	src.poll()

	// Then: it is not yet checked
	select {
	case b := <-src.Events():
		t.Fatalf("unexpected batch before poll interval: %v", b)
	case <-time.After(30 * time.Millisecond):
	}

	clock.Advance(time.Second)
	src.poll()
	batch = receiveBatch(t, src.Events(), time.Second)
	assert.Equal(t, OpModified, batch[0].Op)

	// When: it is removed
	fst.remove(path)
	clock.Advance(2 * time.Second)
	src.poll()

	// Then: a deleted event is emitted
	batch = receiveBatch(t, src.Events(), time.Second)
	assert.Equal(t, OpDeleted, batch[0].Op)
}

func TestSource_Heartbeat_ConfirmedChangeIsNotAMiss(t *testing.T) {
	// Given: a natively watched path
	src, fst, clock := newManualSource(t, true)
	path := filepath.Join(t.TempDir(), "board.md")
	fst.set(path, 10, clock.Now())
	_, err := src.Start(path)
	require.NoError(t, err)

	// When: the file changes and the native event arrives
	fst.set(path, 11, clock.Now().Add(time.Second))
	src.handleNative(fsnotify.Event{Name: path, Op: fsnotify.Write})
	clock.Advance(time.Second)
	src.beat()
	clock.Advance(time.Second)
	src.beat()

	// Then: no misses were counted
	src.mu.Lock()
	misses := src.entries[path].tracker.Misses()
	src.mu.Unlock()
	assert.Equal(t, 0, misses)

	batch := receiveBatch(t, src.Events(), time.Second)
	require.Len(t, batch, 1)
	assert.False(t, batch[0].Synthesized)
}

func TestSource_Heartbeat_MissesDegradeThenPoll(t *testing.T) {
	// Given: a natively watched path with a threshold of two misses
	src, fst, clock := newManualSource(t, true)
	dir := t.TempDir()
	path := filepath.Join(dir, "board.md")
	fst.set(path, 10, clock.Now())
	_, err := src.Start(path)
	require.NoError(t, err)

	// When: two changes go unreported natively
	for i := 0; i < 2; i++ {
		fst.set(path, int64(20+i), clock.Now())
		clock.Advance(time.Second)
		src.beat() // observes the change
		clock.Advance(time.Second)
		src.beat() // no native event arrived: miss
	}

	// Then: the path is DEGRADED and the changes were synthesized
	state, _ := src.State(path)
	assert.Equal(t, HealthDegraded, state)
	ev := receiveHealth(t, src)
	assert.Equal(t, HealthDegraded, ev.State)
	assert.Equal(t, HealthActive, ev.Previous)

	batch := receiveBatch(t, src.Events(), time.Second)
	require.NotEmpty(t, batch)
	assert.True(t, batch[0].Synthesized)
	assert.Equal(t, OpModified, batch[0].Op)

	// When: the grace period passes
	clock.Advance(5 * time.Second)
	src.beat()

	// Then: it falls back to polling with the native watch released
	state, _ = src.State(path)
	assert.Equal(t, HealthPolling, state)
	ev = receiveHealth(t, src)
	assert.Equal(t, HealthPolling, ev.State)
	assert.Equal(t, HealthDegraded, ev.Previous)

	src.mu.Lock()
	assert.False(t, src.entries[path].native)
	assert.Zero(t, src.dirs[dir])
	src.mu.Unlock()

	// And: native events for it are ignored while polling
	src.handleNative(fsnotify.Event{Name: path, Op: fsnotify.Write})
	state, _ = src.State(path)
	assert.Equal(t, HealthPolling, state)
}

func TestSource_NativeEventRecoversDegraded(t *testing.T) {
	src, fst, clock := newManualSource(t, true)
	path := filepath.Join(t.TempDir(), "board.md")
	fst.set(path, 10, clock.Now())
	_, err := src.Start(path)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		fst.set(path, int64(20+i), clock.Now())
		src.beat()
		src.beat()
	}
	receiveHealth(t, src)

	// When: native delivery resumes
	src.handleNative(fsnotify.Event{Name: path, Op: fsnotify.Write})

	// Then: the path is ACTIVE again
	ev := receiveHealth(t, src)
	assert.Equal(t, HealthActive, ev.State)
	assert.Equal(t, HealthDegraded, ev.Previous)
}

func TestSource_ChmodIsIgnored(t *testing.T) {
	src, _, _ := newManualSource(t, true)
	path := filepath.Join(t.TempDir(), "board.md")
	_, err := src.Start(path)
	require.NoError(t, err)

	src.handleNative(fsnotify.Event{Name: path, Op: fsnotify.Chmod})

	select {
	case b := <-src.Events():
		t.Fatalf("unexpected batch for chmod: %v", b)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSource_StopIsRefCountedAndIdempotent(t *testing.T) {
	// Given: a path started twice
	src, _, _ := newManualSource(t, true)
	dir := t.TempDir()
	path := filepath.Join(dir, "board.md")
	h1, err := src.Start(path)
	require.NoError(t, err)
	h2, err := src.Start(path)
	require.NoError(t, err)

	// When: the first handle is stopped twice
	src.Stop(h1)
	src.Stop(h1)

	// Then: the path is still watched
	assert.Equal(t, []string{path}, src.Paths())

	// When: the second handle is stopped
	src.Stop(h2)

	// Then: the path and its directory watch are gone
	assert.Empty(t, src.Paths())
	src.mu.Lock()
	assert.Empty(t, src.dirs)
	src.mu.Unlock()
}

func TestSource_SharedDirectoryWatch(t *testing.T) {
	src, _, _ := newManualSource(t, true)
	dir := t.TempDir()
	a, err := src.Start(filepath.Join(dir, "a.md"))
	require.NoError(t, err)
	_, err = src.Start(filepath.Join(dir, "b.md"))
	require.NoError(t, err)

	src.mu.Lock()
	assert.Equal(t, 2, src.dirs[dir])
	src.mu.Unlock()

	src.Stop(a)

	src.mu.Lock()
	assert.Equal(t, 1, src.dirs[dir])
	src.mu.Unlock()
}

func TestSource_ForcePollingAndRetryNative(t *testing.T) {
	// Given: a natively watched path forced into polling
	src, _, _ := newManualSource(t, true)
	path := filepath.Join(t.TempDir(), "board.md")
	_, err := src.Start(path)
	require.NoError(t, err)

	src.ForcePolling(path, "operator request")
	ev := receiveHealth(t, src)
	assert.Equal(t, HealthPolling, ev.State)

	// When: native watching is retried
	require.NoError(t, src.RetryNative(path))

	// Then: it is ACTIVE again
	ev = receiveHealth(t, src)
	assert.Equal(t, HealthActive, ev.State)
	assert.Equal(t, HealthPolling, ev.Previous)
	assert.Equal(t, map[string]Health{path: HealthActive}, src.States())
}

func TestSource_RetryNativeWithoutBackendFails(t *testing.T) {
	src, _, _ := newManualSource(t, false)
	path := filepath.Join(t.TempDir(), "board.md")
	_, err := src.Start(path)
	require.NoError(t, err)

	assert.Error(t, src.RetryNative(path))
	assert.Error(t, src.RetryNative("/not/watched.md"))
}

func TestSource_StartAfterClose(t *testing.T) {
	src, _, _ := newManualSource(t, false)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err := src.Start("/docs/a.md")
	assert.Error(t, err)
}

func TestSource_Integration_NativeEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping native watcher test in short mode")
	}

	// Given: a running source over a real directory
	opts := testOptions()
	opts.Debounce = 20 * time.Millisecond
	opts.HeartbeatInterval = time.Hour
	opts.PollInterval = time.Hour
	src := NewSource(opts)
	defer func() { _ = src.Close() }()

	dir := t.TempDir()
	path := filepath.Join(dir, "board.md")
	_, err := src.Start(path)
	require.NoError(t, err)

	state, _ := src.State(path)
	if state != HealthActive {
		t.Skip("native notification unavailable in this environment")
	}

	// When: the file is created
	require.NoError(t, os.WriteFile(path, []byte("# Board\n"), 0o644))

	// Then: a created event arrives
	batch := receiveBatch(t, src.Events(), 2*time.Second)
	require.NotEmpty(t, batch)
	assert.Equal(t, path, batch[0].Path)
	assert.Equal(t, OpCreated, batch[0].Op)

	// When: it is removed
	require.NoError(t, os.Remove(path))

	// Then: a deleted event arrives
	batch = receiveBatch(t, src.Events(), 2*time.Second)
	require.NotEmpty(t, batch)
	assert.Equal(t, OpDeleted, batch[0].Op)

	// And: unrelated files in the directory are not reported
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("x"), 0o644))
	select {
	case b := <-src.Events():
		t.Fatalf("unexpected batch for unwatched file: %v", b)
	case <-time.After(100 * time.Millisecond):
	}
}
