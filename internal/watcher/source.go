package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
)

// Handle identifies one Start call. Stopping a handle twice is a no-op.
type Handle struct {
	path    string
	stopped atomic.Bool
}

// Path returns the watched path.
func (h *Handle) Path() string { return h.path }

type snapshot struct {
	exists  bool
	modTime time.Time
	size    int64
}

func (s snapshot) differs(o snapshot) bool {
	return s.exists != o.exists || !s.modTime.Equal(o.modTime) || s.size != o.size
}

// op describes the change from s to next.
func (s snapshot) op(next snapshot) Operation {
	switch {
	case s.exists && !next.exists:
		return OpDeleted
	case !s.exists && next.exists:
		return OpCreated
	default:
		return OpModified
	}
}

type entry struct {
	path    string
	refs    int
	snap    snapshot
	tracker *Tracker
	native  bool

	// nativeSeen is set by a native event since the last heartbeat.
	nativeSeen bool
	// unconfirmed holds a heartbeat-observed change awaiting a native event.
	unconfirmed   bool
	unconfirmedOp Operation

	lastPoll time.Time
}

// sourceDeps are the injectable collaborators of a Source.
type sourceDeps struct {
	now    func() time.Time
	stat   func(string) (os.FileInfo, error)
	notify func() (*fsnotify.Watcher, error)
	// manual disables the background loops; callers drive beat and poll.
	manual bool
}

// Source watches an explicit set of files with per-path health.
type Source struct {
	opts Options
	deps sourceDeps

	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	health    chan HealthEvent

	mu      sync.Mutex
	entries map[string]*entry
	dirs    map[string]int
	closed  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSource creates a Source and starts its heartbeat and native loops.
// If native notification cannot be initialised every path starts in POLLING.
func NewSource(opts Options) *Source {
	return newSource(opts, sourceDeps{})
}

func newSource(opts Options, deps sourceDeps) *Source {
	opts = opts.WithDefaults()
	if deps.now == nil {
		deps.now = time.Now
	}
	if deps.stat == nil {
		deps.stat = os.Stat
	}
	if deps.notify == nil {
		deps.notify = fsnotify.NewWatcher
	}

	s := &Source{
		opts:      opts,
		deps:      deps,
		debouncer: NewDebouncer(opts.Debounce, opts.EventBufferSize),
		health:    make(chan HealthEvent, opts.EventBufferSize),
		entries:   make(map[string]*entry),
		dirs:      make(map[string]int),
		stopCh:    make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := deps.notify()
		if err != nil {
			slog.Warn("native file notification unavailable, using polling",
				slog.String("error", err.Error()))
		} else {
			s.fsw = fsw
		}
	}

	if !deps.manual {
		s.wg.Add(1)
		go s.loop()
		if s.fsw != nil {
			s.wg.Add(1)
			go s.nativeLoop()
		}
	}
	return s
}

// Events returns coalesced change batches.
func (s *Source) Events() <-chan []Event {
	return s.debouncer.Output()
}

// Health returns per-path health transitions.
func (s *Source) Health() <-chan HealthEvent {
	return s.health
}

// Start begins watching path. A path that does not exist is watched for
// creation. Starting an already watched path adds a reference.
func (s *Source) Start(path string) (*Handle, error) {
	path = filepath.Clean(path)

	var transitions []HealthEvent
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, serrors.New(serrors.ErrCodeClosed, "watcher is closed", nil)
	}

	if e, ok := s.entries[path]; ok {
		e.refs++
		s.mu.Unlock()
		return &Handle{path: path}, nil
	}

	now := s.deps.now()
	e := &entry{
		path:     path,
		refs:     1,
		snap:     s.statSnapshot(path),
		tracker:  NewTracker(s.opts.MissedHeartbeats, s.opts.DegradedGrace),
		lastPoll: now,
	}
	s.entries[path] = e

	if err := s.acquireNative(e); err != nil {
		e.tracker.ForcePolling()
		transitions = append(transitions, HealthEvent{
			Path: path, State: HealthPolling, Previous: HealthActive, At: now,
			Reason: err.Error(),
		})
	}
	s.mu.Unlock()

	s.emitHealth(transitions)
	return &Handle{path: path}, nil
}

// Stop releases a handle. The path stops being watched when its last
// handle is released.
func (s *Source) Stop(h *Handle) {
	if h == nil || h.stopped.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h.path]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	s.releaseNative(e)
	delete(s.entries, h.path)
}

// State returns the health of a watched path.
func (s *Source) State(path string) (Health, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[filepath.Clean(path)]
	if !ok {
		return "", false
	}
	return e.tracker.State(), true
}

// States returns the health of every watched path.
func (s *Source) States() map[string]Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Health, len(s.entries))
	for p, e := range s.entries {
		out[p] = e.tracker.State()
	}
	return out
}

// Paths returns the watched paths in sorted order.
func (s *Source) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ForcePolling moves path to POLLING and releases its native watch.
func (s *Source) ForcePolling(path string, reason string) {
	path = filepath.Clean(path)
	var transitions []HealthEvent
	s.mu.Lock()
	if e, ok := s.entries[path]; ok {
		prev := e.tracker.State()
		if e.tracker.ForcePolling() {
			s.releaseNative(e)
			transitions = append(transitions, HealthEvent{
				Path: path, State: HealthPolling, Previous: prev, At: s.deps.now(), Reason: reason,
			})
		}
	}
	s.mu.Unlock()
	s.emitHealth(transitions)
}

// RetryNative tries to move a POLLING path back to native notification.
func (s *Source) RetryNative(path string) error {
	path = filepath.Clean(path)
	var transitions []HealthEvent
	s.mu.Lock()
	e, ok := s.entries[path]
	if !ok {
		s.mu.Unlock()
		return serrors.New(serrors.ErrCodeUnknownDocument, "path is not watched", nil).
			WithDetail("path", path)
	}
	if e.tracker.State() != HealthPolling {
		s.mu.Unlock()
		return nil
	}
	if err := s.acquireNative(e); err != nil {
		s.mu.Unlock()
		return err
	}
	e.tracker.Reset()
	e.snap = s.statSnapshot(path)
	e.unconfirmed = false
	e.nativeSeen = false
	transitions = append(transitions, HealthEvent{
		Path: path, State: HealthActive, Previous: HealthPolling, At: s.deps.now(),
		Reason: "native watch restored",
	})
	s.mu.Unlock()
	s.emitHealth(transitions)
	return nil
}

// Close stops all loops and releases native watches.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.debouncer.Stop()
	var err error
	if s.fsw != nil {
		err = s.fsw.Close()
	}
	s.wg.Wait()
	return err
}

// acquireNative adds a native watch on e's parent directory. Caller holds mu.
func (s *Source) acquireNative(e *entry) error {
	if s.fsw == nil {
		return serrors.New(serrors.ErrCodeWatchUnavailable, "native watch unavailable", nil).
			WithDetail("path", e.path)
	}
	if e.native {
		return nil
	}
	dir := filepath.Dir(e.path)
	if s.dirs[dir] == 0 {
		if err := s.fsw.Add(dir); err != nil {
			code := serrors.ErrCodeWatchUnavailable
			if isWatchLimit(err) {
				code = serrors.ErrCodeWatchLimit
			}
			return serrors.New(code, "cannot watch directory", err).WithDetail("path", dir)
		}
	}
	s.dirs[dir]++
	e.native = true
	return nil
}

// releaseNative drops e's reference on its parent directory watch. Caller holds mu.
func (s *Source) releaseNative(e *entry) {
	if !e.native {
		return
	}
	e.native = false
	dir := filepath.Dir(e.path)
	s.dirs[dir]--
	if s.dirs[dir] > 0 {
		return
	}
	delete(s.dirs, dir)
	if s.fsw != nil {
		if err := s.fsw.Remove(dir); err != nil {
			slog.Debug("failed to remove directory watch",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Source) statSnapshot(path string) snapshot {
	info, err := s.deps.stat(path)
	if err != nil {
		return snapshot{}
	}
	return snapshot{exists: true, modTime: info.ModTime(), size: info.Size()}
}

func (s *Source) loop() {
	defer s.wg.Done()

	beat := time.NewTicker(s.opts.HeartbeatInterval)
	defer beat.Stop()
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-beat.C:
			s.beat()
		case <-poll.C:
			s.poll()
		}
	}
}

func (s *Source) nativeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleNative(ev)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("native watch error", slog.String("error", err.Error()))
		}
	}
}

// handleNative routes a native notification to its watched path.
func (s *Source) handleNative(ev fsnotify.Event) {
	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreated
	case ev.Has(fsnotify.Write):
		op = OpModified
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = OpDeleted
	default:
		return
	}

	path := filepath.Clean(ev.Name)
	var transitions []HealthEvent
	s.mu.Lock()
	e, ok := s.entries[path]
	if !ok || !e.native {
		s.mu.Unlock()
		return
	}
	e.nativeSeen = true
	e.unconfirmed = false
	prev := e.tracker.State()
	if e.tracker.Hit() {
		transitions = append(transitions, HealthEvent{
			Path: path, State: e.tracker.State(), Previous: prev, At: s.deps.now(),
			Reason: "native events resumed",
		})
	}
	s.mu.Unlock()

	s.emitHealth(transitions)
	s.debouncer.Add(Event{Path: path, Op: op, Timestamp: s.deps.now()})
}

// beat verifies native delivery for every non-polling path.
func (s *Source) beat() {
	now := s.deps.now()
	var (
		transitions []HealthEvent
		synthesized []Event
	)

	s.mu.Lock()
	for _, e := range s.entries {
		if e.tracker.State() == HealthPolling {
			continue
		}
		prev := e.tracker.State()

		if e.unconfirmed {
			// A change seen last beat never arrived natively.
			e.unconfirmed = false
			synthesized = append(synthesized, Event{
				Path: e.path, Op: e.unconfirmedOp, Timestamp: now, Synthesized: true,
			})
			if e.tracker.Miss(now) {
				transitions = append(transitions, HealthEvent{
					Path: e.path, State: e.tracker.State(), Previous: prev, At: now,
					Reason: "missed heartbeats",
				})
				prev = e.tracker.State()
			}
		}

		next := s.statSnapshot(e.path)
		if e.snap.differs(next) && !e.nativeSeen {
			e.unconfirmed = true
			e.unconfirmedOp = e.snap.op(next)
		}
		e.snap = next
		e.nativeSeen = false

		if e.tracker.Tick(now) {
			s.releaseNative(e)
			e.lastPoll = now
			transitions = append(transitions, HealthEvent{
				Path: e.path, State: HealthPolling, Previous: prev, At: now,
				Reason: "degraded past grace period",
			})
		}
	}
	s.mu.Unlock()

	s.emitHealth(transitions)
	for _, ev := range synthesized {
		s.debouncer.Add(ev)
	}
}

// poll stats every POLLING path whose interval has elapsed.
func (s *Source) poll() {
	now := s.deps.now()
	var changes []Event

	s.mu.Lock()
	for _, e := range s.entries {
		if e.tracker.State() != HealthPolling {
			continue
		}
		if now.Sub(e.lastPoll) < s.opts.PollInterval {
			continue
		}
		e.lastPoll = now
		next := s.statSnapshot(e.path)
		if e.snap.differs(next) {
			changes = append(changes, Event{
				Path: e.path, Op: e.snap.op(next), Timestamp: now, Synthesized: true,
			})
		}
		e.snap = next
	}
	s.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	for _, ev := range changes {
		s.debouncer.Add(ev)
	}
}

func (s *Source) emitHealth(events []HealthEvent) {
	for _, ev := range events {
		slog.Info("watch health changed",
			slog.String("path", ev.Path),
			slog.String("from", string(ev.Previous)),
			slog.String("to", string(ev.State)),
			slog.String("reason", ev.Reason))
		// Callers may hold their own locks while starting paths, so a full
		// channel drops the transition. State still reports the current health.
		select {
		case s.health <- ev:
		case <-s.stopCh:
			return
		default:
			slog.Warn("health channel full, dropping transition",
				slog.String("path", ev.Path),
				slog.String("to", string(ev.State)))
		}
	}
}
