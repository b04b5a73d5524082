package coordinator

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mdsentry/internal/config"
	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/watcher"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *manualClock {
	return &manualClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeWatcher records watch requests and lets tests drive health.
type fakeWatcher struct {
	mu       sync.Mutex
	events   chan []watcher.Event
	health   chan watcher.HealthEvent
	handles  map[*watcher.Handle]string
	started  map[string]int
	stopped  map[string]int
	states   map[string]watcher.Health
	forced   []string
	retryErr error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events:  make(chan []watcher.Event, 16),
		health:  make(chan watcher.HealthEvent, 16),
		handles: make(map[*watcher.Handle]string),
		started: make(map[string]int),
		stopped: make(map[string]int),
		states:  make(map[string]watcher.Health),
	}
}

func (w *fakeWatcher) Start(path string) (*watcher.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := &watcher.Handle{}
	w.handles[h] = path
	w.started[path]++
	if _, ok := w.states[path]; !ok {
		w.states[path] = watcher.HealthActive
	}
	return h, nil
}

func (w *fakeWatcher) Stop(h *watcher.Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if path, ok := w.handles[h]; ok {
		delete(w.handles, h)
		w.stopped[path]++
	}
}

func (w *fakeWatcher) Events() <-chan []watcher.Event     { return w.events }
func (w *fakeWatcher) Health() <-chan watcher.HealthEvent { return w.health }
func (w *fakeWatcher) Close() error                       { return nil }
func (w *fakeWatcher) setState(path string, h watcher.Health) {
	w.withLock(func() { w.states[path] = h })
}

func (w *fakeWatcher) State(path string) (watcher.Health, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.states[path]
	return st, ok
}

func (w *fakeWatcher) RetryNative(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retryErr != nil {
		return w.retryErr
	}
	w.states[path] = watcher.HealthActive
	return nil
}

func (w *fakeWatcher) ForcePolling(path string, _ string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.forced = append(w.forced, path)
	w.states[path] = watcher.HealthPolling
}

func (w *fakeWatcher) withLock(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn()
}

func (w *fakeWatcher) startedCount(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started[path]
}

func (w *fakeWatcher) stoppedCount(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped[path]
}

// faultFS is the real filesystem with per-path injected failures.
type faultFS struct {
	conflict.OSFS
	mu        sync.Mutex
	statErr   map[string]error
	writeErr  map[string]error
	readErr   map[string]error
	writeHits map[string]int
}

func newFaultFS() *faultFS {
	return &faultFS{
		statErr:   make(map[string]error),
		writeErr:  make(map[string]error),
		readErr:   make(map[string]error),
		writeHits: make(map[string]int),
	}
}

func (f *faultFS) Stat(path string) (os.FileInfo, error) {
	f.mu.Lock()
	err := f.statErr[path]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.OSFS.Stat(path)
}

func (f *faultFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	err := f.readErr[path]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.OSFS.ReadFile(path)
}

func (f *faultFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	f.mu.Lock()
	f.writeHits[path]++
	err := f.writeErr[path]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.OSFS.WriteFile(path, data, perm)
}

func (f *faultFS) failWrites(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.writeErr, path)
		return
	}
	f.writeErr[path] = err
}

func (f *faultFS) failStats(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.statErr, path)
		return
	}
	f.statErr[path] = err
}

func permissionDenied(path string) error {
	return &fs.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
}

var errFlaky = errors.New("input/output error")

// memBuffers is an in-memory editor buffer source.
type memBuffers struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (b *memBuffers) Content(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.m[path]
	return content, ok
}

func (b *memBuffers) set(path, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.m == nil {
		b.m = make(map[string][]byte)
	}
	b.m[path] = []byte(content)
}

type harness struct {
	c       *Coordinator
	watch   *fakeWatcher
	fs      *faultFS
	clock   *manualClock
	buffers *memBuffers
	dir     string
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Queue.DebounceDelay = "300ms"
	cfg.Queue.MaxConcurrent = 3
	cfg.Classifier.TransientFailures = 2
	cfg.Classifier.RetryWindow = "1m"
	// Follow-up timers stay out of the way of synchronous assertions.
	cfg.Retry.InitialDelay = "1h"
	cfg.Retry.MaxDelay = "1h"
	return cfg
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	dir, err := filestate.Canonical(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		watch:   newFakeWatcher(),
		fs:      newFaultFS(),
		clock:   newClock(),
		buffers: &memBuffers{},
		dir:     dir,
	}
	opts := Options{
		Config:  testConfig(),
		FS:      h.fs,
		Watcher: h.watch,
		Buffers: h.buffers,
		Now:     h.clock.Now,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.c, err = New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

// path returns the canonical path of name inside the harness directory.
func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	p := h.path(name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// settle advances past the queue debounce and delivers ready conflicts to
// a fresh subscriber.
func (h *harness) settle(t *testing.T) []*conflict.Conflict {
	t.Helper()
	ch, unsubscribe := h.c.Subscribe()
	defer unsubscribe()

	h.clock.Advance(time.Second)
	h.c.dispatch(context.Background())
	select {
	case batch := <-ch:
		return batch
	default:
		return nil
	}
}

func (h *harness) pendingKinds() []conflict.Kind {
	var kinds []conflict.Kind
	for _, e := range h.c.Conflicts().Pending {
		kinds = append(kinds, e.Conflict.Kind)
	}
	return kinds
}
