// Package coordinator composes file state, the include graph, the watcher,
// the classifier, the conflict queue, the resolution policy and crash
// recovery into one conflict engine.
//
// Every mutation of the store, graph and queue happens inside a turn: a
// section holding the coordinator's single mutex. Watch batches, health
// transitions, timers and API calls each enter as a turn. Resolution
// prompts run in per-path goroutines outside any turn, so a pending prompt
// never holds up other paths.
package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/mdsentry/internal/config"
	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/depgraph"
	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/include"
	"github.com/Aman-CERP/mdsentry/internal/queue"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
	"github.com/Aman-CERP/mdsentry/internal/watcher"
)

// Watcher is the change-notification surface the coordinator consumes.
// *watcher.Source implements it.
type Watcher interface {
	Start(path string) (*watcher.Handle, error)
	Stop(h *watcher.Handle)
	Events() <-chan []watcher.Event
	Health() <-chan watcher.HealthEvent
	State(path string) (watcher.Health, bool)
	RetryNative(path string) error
	ForcePolling(path string, reason string)
	Close() error
}

// BufferSource exposes the editor's in-memory content.
type BufferSource interface {
	// Content returns the current in-memory content of path, if any.
	Content(path string) ([]byte, bool)
}

// BufferFunc adapts a function to BufferSource.
type BufferFunc func(path string) ([]byte, bool)

// Content calls f.
func (f BufferFunc) Content(path string) ([]byte, bool) { return f(path) }

// Recorder observes detections and resolutions. *telemetry.Metrics
// implements it. Calls happen inside a turn and must not block.
type Recorder interface {
	RecordDetection(path string, kind conflict.Kind, coalesced bool)
	RecordResolution(path string, kind conflict.Kind, action resolution.Action, auto bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordDetection(string, conflict.Kind, bool) {}

func (nopRecorder) RecordResolution(string, conflict.Kind, resolution.Action, bool) {}

// DocumentHandle identifies one RegisterDocument call.
type DocumentHandle struct {
	ID   uint64 `json:"id"`
	Path string `json:"path"`
}

// Options wires a Coordinator. Only Config is commonly set; every other
// field has a working default.
type Options struct {
	Config *config.Config

	// FS defaults to the real filesystem.
	FS conflict.FS

	// Watcher defaults to a watcher.Source built from Config, owned and
	// closed by the coordinator.
	Watcher Watcher

	// Policy defaults to a session-only policy.
	Policy *resolution.Policy

	// Recovery enables emergency backups when set.
	Recovery *recovery.Manager

	Buffers  BufferSource
	Prompter resolution.Prompter

	// Extractor defaults to include.Directives.
	Extractor include.Extractor

	Metrics Recorder

	Now    func() time.Time
	Logger *slog.Logger
}

// Coordinator is the conflict engine.
type Coordinator struct {
	mu sync.Mutex

	cfg       *config.Config
	fs        conflict.FS
	watch     Watcher
	ownsWatch bool
	policy    *resolution.Policy
	recovery  *recovery.Manager
	buffers   BufferSource
	prompter  resolution.Prompter
	extractor include.Extractor
	metrics   Recorder
	now       func() time.Time
	logger    *slog.Logger
	retry     serrors.RetryConfig

	store      *filestate.Store
	graph      *depgraph.Graph
	queue      *queue.Queue
	classifier *conflict.Classifier
	breakers   *serrors.Breakers

	docs    map[uint64]string
	nextDoc uint64
	handles map[string]*watcher.Handle

	// sinceSwitch marks paths whose switch to POLLING the user has not
	// yet acknowledged.
	sinceSwitch  map[string]bool
	readOnly     map[string]bool
	ignored      map[string]string
	attempts     map[string]int
	pendingSaves map[string][]byte
	backups      map[string]recovery.EmergencyBackup
	prompts      map[string]*prompt
	timers       map[timerKey]*time.Timer
	subs         map[uint64]*subscriber
	nextSub      uint64
	recovered    bool

	wake      chan struct{}
	done      chan struct{}
	closed    bool
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a coordinator.
func New(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if opts.FS == nil {
		opts.FS = conflict.OSFS{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Extractor == nil {
		opts.Extractor = include.Directives{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Policy == nil {
		p, err := resolution.NewPolicy(context.Background(), nil, opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.Policy = p
	}

	ownsWatch := false
	if opts.Watcher == nil {
		opts.Watcher = watcher.NewSource(WatcherOptions(cfg))
		ownsWatch = true
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		fs:        opts.FS,
		watch:     opts.Watcher,
		ownsWatch: ownsWatch,
		policy:    opts.Policy,
		recovery:  opts.Recovery,
		buffers:   opts.Buffers,
		prompter:  opts.Prompter,
		extractor: opts.Extractor,
		metrics:   opts.Metrics,
		now:       opts.Now,
		logger:    opts.Logger,
		retry:     RetryPolicy(cfg),

		store:      filestate.New(cfg.Cache.ContentEntries),
		graph:      depgraph.New(),
		queue:      queue.New(config.Duration(cfg.Queue.DebounceDelay), cfg.Queue.MaxConcurrent),
		classifier: conflict.NewClassifier(opts.Now),
		breakers: serrors.NewBreakers(
			serrors.WithMaxFailures(cfg.Classifier.TransientFailures),
			serrors.WithWindow(config.Duration(cfg.Classifier.RetryWindow)),
			serrors.WithClock(opts.Now),
		),

		docs:         make(map[uint64]string),
		handles:      make(map[string]*watcher.Handle),
		sinceSwitch:  make(map[string]bool),
		readOnly:     make(map[string]bool),
		ignored:      make(map[string]string),
		attempts:     make(map[string]int),
		pendingSaves: make(map[string][]byte),
		backups:      make(map[string]recovery.EmergencyBackup),
		prompts:      make(map[string]*prompt),
		timers:       make(map[timerKey]*time.Timer),
		subs:         make(map[uint64]*subscriber),

		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		baseCtx:   baseCtx,
		cancelAll: cancel,
	}
	// A commit answers any pending content detection for the path. Cycles,
	// watch advisories and recovered backups outlive it.
	c.store.OnCommit(func(path string) {
		pending, ok := c.queue.PendingFor(path)
		if !ok || !stalesOnCommit(pending) {
			return
		}
		c.queue.Cancel(path)
	})
	return c, nil
}

func stalesOnCommit(cf *conflict.Conflict) bool {
	if cf.Source == conflict.SourceBackup {
		return false
	}
	switch cf.Kind {
	case conflict.KindCircular, conflict.KindWatchFailure:
		return false
	default:
		return true
	}
}

// WatcherOptions maps configuration onto watcher options.
func WatcherOptions(cfg *config.Config) watcher.Options {
	return watcher.Options{
		Debounce:          config.Duration(cfg.Watch.Debounce),
		PollInterval:      config.Duration(cfg.Watch.PollInterval),
		HeartbeatInterval: config.Duration(cfg.Watch.HeartbeatInterval),
		MissedHeartbeats:  cfg.Watch.MissedHeartbeats,
		DegradedGrace:     config.Duration(cfg.Watch.DegradedGrace),
		EventBufferSize:   cfg.Watch.EventBufferSize,
		ForcePolling:      cfg.Watch.ForcePolling,
	}
}

// RetryPolicy maps configuration onto the retry backoff.
func RetryPolicy(cfg *config.Config) serrors.RetryConfig {
	r := serrors.DefaultRetryConfig()
	if d := config.Duration(cfg.Retry.InitialDelay); d > 0 {
		r.InitialDelay = d
	}
	if d := config.Duration(cfg.Retry.MaxDelay); d > 0 {
		r.MaxDelay = d
	}
	if cfg.Retry.Multiplier >= 1 {
		r.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Retry.MaxRetries > 0 {
		r.MaxRetries = cfg.Retry.MaxRetries
	}
	return r
}

// Run consumes watcher events and health transitions, delivers ready
// conflicts, and takes periodic emergency snapshots, until ctx is done or
// the coordinator is closed.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.recovery != nil && c.buffers != nil {
		interval := config.Duration(c.cfg.Recovery.SnapshotInterval)
		if interval > 0 {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					select {
					case <-c.done:
						cancel()
					case <-runCtx.Done():
					}
				}()
				c.recovery.Run(runCtx, interval, c.UnsavedBuffers)
			}()
		}
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		c.dispatch(ctx)
		c.armTimer(timer)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case batch := <-c.watch.Events():
			c.HandleEvents(ctx, batch)
		case ev := <-c.watch.Health():
			c.HandleHealth(ctx, ev)
		case <-c.wake:
		case <-timer.C:
		}
	}
}

// armTimer sets timer to the next queue deadline, if anything can consume it.
func (c *Coordinator) armTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	c.mu.Lock()
	deadline, ok := c.queue.NextDeadline()
	consumers := c.prompter != nil || len(c.subs) > 0
	now := c.now()
	c.mu.Unlock()
	if !ok || !consumers {
		return
	}
	d := deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// signal wakes the Run loop.
func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close cancels prompts and timers, releases watches and closes an owned
// watcher. Safe to call multiple times.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.cancelAll()
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
	for path, h := range c.handles {
		c.watch.Stop(h)
		delete(c.handles, path)
	}
	c.mu.Unlock()

	c.wg.Wait()
	if c.ownsWatch {
		return c.watch.Close()
	}
	return nil
}

func (c *Coordinator) closedError() error {
	return serrors.New(serrors.ErrCodeClosed, "coordinator is closed", nil)
}

// Status is a read-only snapshot of the engine.
type Status struct {
	TrackedFiles      int                       `json:"tracked_files"`
	PendingConflicts  int                       `json:"pending_conflicts"`
	InFlightConflicts int                       `json:"in_flight_conflicts"`
	WatchHealth       map[string]watcher.Health `json:"watch_health"`
	GraphEdgeCount    int                       `json:"graph_edge_count"`
	Documents         []string                  `json:"documents"`
	ReadOnly          []string                  `json:"read_only,omitempty"`
	RecoveredBackups  int                       `json:"recovered_backups"`
}

// GetSystemStatus returns current diagnostics.
func (c *Coordinator) GetSystemStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		TrackedFiles:      c.store.Len(),
		PendingConflicts:  c.queue.Len(),
		InFlightConflicts: len(c.queue.InFlight()),
		WatchHealth:       make(map[string]watcher.Health, c.store.Len()),
		GraphEdgeCount:    c.graph.EdgeCount(),
		RecoveredBackups:  len(c.backups),
	}
	for _, p := range c.store.Paths() {
		if rec, ok := c.store.Observe(p); ok {
			st.WatchHealth[p] = rec.WatchState
		}
	}
	seen := make(map[string]bool)
	for _, root := range c.docs {
		if !seen[root] {
			seen[root] = true
			st.Documents = append(st.Documents, root)
		}
	}
	sort.Strings(st.Documents)
	for p := range c.readOnly {
		st.ReadOnly = append(st.ReadOnly, p)
	}
	sort.Strings(st.ReadOnly)
	return st
}

// ConflictView lists queued conflicts.
type ConflictView struct {
	Pending  []queue.Entry        `json:"pending"`
	InFlight []*conflict.Conflict `json:"in_flight"`
}

// Conflicts returns pending and in-flight conflicts.
func (c *Coordinator) Conflicts() ConflictView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConflictView{Pending: c.queue.Pending(), InFlight: c.queue.InFlight()}
}

// GraphView is a snapshot of the include graph.
type GraphView struct {
	Edges    []depgraph.Edge  `json:"edges"`
	Order    []string         `json:"order"`
	Rejected []depgraph.Cycle `json:"rejected,omitempty"`
}

// Graph returns the include graph.
func (c *Coordinator) Graph() GraphView {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, err := c.graph.TopologicalOrder()
	if err != nil {
		c.logger.Error("include graph invariant violated", slog.String("error", err.Error()))
	}
	return GraphView{Edges: c.graph.Edges(), Order: order, Rejected: c.graph.Rejected()}
}

// Record returns the tracked state of path.
func (c *Coordinator) Record(path string) (filestate.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Observe(canonical(path))
}

// Documents returns the registered document handles ordered by ID.
func (c *Coordinator) Documents() []DocumentHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DocumentHandle, 0, len(c.docs))
	for id, p := range c.docs {
		out = append(out, DocumentHandle{ID: id, Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Policy returns the resolution policy.
func (c *Coordinator) Policy() *resolution.Policy { return c.policy }

// canonical resolves path, falling back to a cleaned absolute form.
func canonical(path string) string {
	if p, err := filestate.Canonical(path); err == nil {
		return p
	}
	return path
}
