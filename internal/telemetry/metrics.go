// Package telemetry counts conflict detections and resolutions.
//
// Counters live in memory for the current session and are flushed as
// per-day deltas to a Store, so `mdsentry stats` can report across
// sessions. Nothing leaves the machine.
package telemetry

import (
	"errors"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// dateLayout keys daily aggregates.
const dateLayout = "2006-01-02"

// ResolutionKey groups resolutions.
type ResolutionKey struct {
	Kind   conflict.Kind
	Action resolution.Action
	Auto   bool
}

// ResolutionCount is one row of resolution statistics.
type ResolutionCount struct {
	Kind   conflict.Kind     `json:"kind"`
	Action resolution.Action `json:"action"`
	Auto   bool              `json:"auto"`
	Count  int64             `json:"count"`
}

// PathCount is a file and how many conflicts it produced.
type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// Event is one recorded detection or resolution. Action is empty for
// detections.
type Event struct {
	At     time.Time         `json:"at"`
	Path   string            `json:"path"`
	Kind   conflict.Kind     `json:"kind"`
	Action resolution.Action `json:"action,omitempty"`
	Auto   bool              `json:"auto,omitempty"`
}

// Store persists daily deltas.
type Store interface {
	SaveDetections(date string, counts map[conflict.Kind]int64) error
	SaveResolutions(date string, counts map[ResolutionKey]int64) error
}

// Config configures a Metrics collector.
type Config struct {
	// FlushInterval is how often deltas are written to the store.
	// Zero disables the background flush; Close still flushes.
	FlushInterval time.Duration
	// HotPaths bounds how many distinct paths are counted.
	HotPaths int
	// RecentEvents bounds the event history kept in memory.
	RecentEvents int
	Now          func() time.Time
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval: time.Minute,
		HotPaths:      100,
		RecentEvents:  50,
		Now:           time.Now,
	}
}

// Snapshot is a point-in-time copy of session counters.
type Snapshot struct {
	Since        time.Time               `json:"since"`
	Detections   map[conflict.Kind]int64 `json:"detections"`
	Coalesced    int64                   `json:"coalesced"`
	Resolutions  []ResolutionCount       `json:"resolutions"`
	AutoResolved int64                   `json:"auto_resolved"`
	HotPaths     []PathCount             `json:"hot_paths,omitempty"`
	Recent       []Event                 `json:"recent,omitempty"`
}

// Metrics collects conflict statistics. Safe for concurrent use; Record
// methods never block on the store.
type Metrics struct {
	mu     sync.Mutex
	cfg    Config
	store  Store
	start  time.Time
	closed bool

	detections  map[conflict.Kind]int64
	coalesced   int64
	resolutions map[ResolutionKey]int64
	hotPaths    *lru.Cache[string, int64]
	recent      *CircularBuffer[Event]

	// Deltas not yet flushed.
	pendingDetections  map[conflict.Kind]int64
	pendingResolutions map[ResolutionKey]int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a collector. A nil store keeps counters in memory only.
func New(store Store, cfg Config) *Metrics {
	def := DefaultConfig()
	if cfg.HotPaths <= 0 {
		cfg.HotPaths = def.HotPaths
	}
	if cfg.RecentEvents <= 0 {
		cfg.RecentEvents = def.RecentEvents
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	hot, _ := lru.New[string, int64](cfg.HotPaths)
	m := &Metrics{
		cfg:                cfg,
		store:              store,
		start:              cfg.Now(),
		detections:         make(map[conflict.Kind]int64),
		resolutions:        make(map[ResolutionKey]int64),
		hotPaths:           hot,
		recent:             NewCircularBuffer[Event](cfg.RecentEvents),
		pendingDetections:  make(map[conflict.Kind]int64),
		pendingResolutions: make(map[ResolutionKey]int64),
		stopCh:             make(chan struct{}),
	}

	if store != nil && cfg.FlushInterval > 0 {
		m.wg.Add(1)
		go m.flushLoop()
	}
	return m
}

func (m *Metrics) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// RecordDetection counts a conflict entering the queue. A coalesced
// detection merged into an existing entry is counted separately.
func (m *Metrics) RecordDetection(path string, kind conflict.Kind, coalesced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if coalesced {
		m.coalesced++
		return
	}
	m.detections[kind]++
	m.pendingDetections[kind]++
	count, _ := m.hotPaths.Get(path)
	m.hotPaths.Add(path, count+1)
	m.recent.Add(Event{At: m.cfg.Now(), Path: path, Kind: kind})
}

// RecordResolution counts an applied resolution.
func (m *Metrics) RecordResolution(path string, kind conflict.Kind, action resolution.Action, auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	key := ResolutionKey{Kind: kind, Action: action, Auto: auto}
	m.resolutions[key]++
	m.pendingResolutions[key]++
	m.recent.Add(Event{At: m.cfg.Now(), Path: path, Kind: kind, Action: action, Auto: auto})
}

// Snapshot returns the session counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Since:       m.start,
		Detections:  make(map[conflict.Kind]int64, len(m.detections)),
		Coalesced:   m.coalesced,
		Resolutions: resolutionCounts(m.resolutions),
		Recent:      m.recent.Items(),
	}
	for k, v := range m.detections {
		s.Detections[k] = v
	}
	for _, r := range s.Resolutions {
		if r.Auto {
			s.AutoResolved += r.Count
		}
	}
	for _, p := range m.hotPaths.Keys() {
		if n, ok := m.hotPaths.Peek(p); ok {
			s.HotPaths = append(s.HotPaths, PathCount{Path: p, Count: n})
		}
	}
	sort.SliceStable(s.HotPaths, func(i, j int) bool {
		if s.HotPaths[i].Count != s.HotPaths[j].Count {
			return s.HotPaths[i].Count > s.HotPaths[j].Count
		}
		return s.HotPaths[i].Path < s.HotPaths[j].Path
	})
	return s
}

// Flush writes pending deltas under today's date. Deltas that fail to
// save are kept for the next flush.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	dets, res := m.pendingDetections, m.pendingResolutions
	m.pendingDetections = make(map[conflict.Kind]int64)
	m.pendingResolutions = make(map[ResolutionKey]int64)
	date := m.cfg.Now().Format(dateLayout)
	m.mu.Unlock()

	var errs []error
	if len(dets) > 0 {
		if err := m.store.SaveDetections(date, dets); err != nil {
			errs = append(errs, err)
			m.restore(dets, nil)
		}
	}
	if len(res) > 0 {
		if err := m.store.SaveResolutions(date, res); err != nil {
			errs = append(errs, err)
			m.restore(nil, res)
		}
	}
	return errors.Join(errs...)
}

func (m *Metrics) restore(dets map[conflict.Kind]int64, res map[ResolutionKey]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range dets {
		m.pendingDetections[k] += v
	}
	for k, v := range res {
		m.pendingResolutions[k] += v
	}
}

// Close stops the background flush and flushes once more.
// Safe to call multiple times.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	return m.Flush()
}

func resolutionCounts(counts map[ResolutionKey]int64) []ResolutionCount {
	out := make([]ResolutionCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, ResolutionCount{Kind: k.Kind, Action: k.Action, Auto: k.Auto, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return !out[i].Auto && out[j].Auto
	})
	return out
}
