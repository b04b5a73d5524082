package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid events per path. A burst for one path becomes
// one event according to:
//   - CREATED + MODIFIED = CREATED (still new)
//   - CREATED + DELETED = nothing (never really existed)
//   - MODIFIED + DELETED = DELETED (gone)
//   - DELETED + CREATED = MODIFIED (replaced, e.g. atomic save)
//
// Batches preserve first-arrival order across paths.
type Debouncer struct {
	window time.Duration
	out    chan []Event
	stopCh chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingEvent
	order   []string
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Operation
}

// NewDebouncer creates a debouncer emitting after window of quiet.
// buffer is the capacity of the output channel.
func NewDebouncer(window time.Duration, buffer int) *Debouncer {
	if buffer < 1 {
		buffer = 1
	}
	return &Debouncer{
		window:  window,
		out:     make(chan []Event, buffer),
		stopCh:  make(chan struct{}),
		pending: make(map[string]*pendingEvent),
	}
}

// Add records an event, restarting the quiet window.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if existing, ok := d.pending[ev.Path]; ok {
		merged, keep := coalesce(existing.firstOp, existing.event, ev)
		if !keep {
			delete(d.pending, ev.Path)
			d.order = removeString(d.order, ev.Path)
		} else {
			existing.event = merged
		}
	} else {
		d.pending[ev.Path] = &pendingEvent{event: ev, firstOp: ev.Op}
		d.order = append(d.order, ev.Path)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges next into prev given the burst's first operation.
// keep is false when the burst cancels out.
func coalesce(first Operation, prev, next Event) (Event, bool) {
	switch first {
	case OpCreated:
		switch next.Op {
		case OpDeleted:
			return Event{}, false
		default:
			prev.Timestamp = next.Timestamp
			prev.Synthesized = prev.Synthesized && next.Synthesized
			return prev, true
		}
	case OpDeleted:
		if next.Op == OpCreated || next.Op == OpModified {
			next.Op = OpModified
		}
		return next, true
	default:
		return next, true
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.order) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(d.order))
	for _, p := range d.order {
		batch = append(batch, d.pending[p].event)
	}
	d.pending = make(map[string]*pendingEvent)
	d.order = nil
	d.mu.Unlock()

	select {
	case d.out <- batch:
	case <-d.stopCh:
	}
}

// Output returns the channel of coalesced batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.out
}

// Stop discards pending events. Safe to call multiple times.
// The output channel is left open; readers select on their own stop signal.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
