package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, ch <-chan []Event, timeout time.Duration) []Event {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for event batch")
		return nil
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	// When: one event is added
	d.Add(Event{Path: "/docs/a.md", Op: OpModified, Timestamp: time.Now()})

	// Then: it is emitted after the window
	batch := receiveBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, "/docs/a.md", batch[0].Path)
	assert.Equal(t, OpModified, batch[0].Op)
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name   string
		ops    []Operation
		want   Operation
		absent bool
	}{
		{"modified burst", []Operation{OpModified, OpModified, OpModified}, OpModified, false},
		{"created then modified", []Operation{OpCreated, OpModified}, OpCreated, false},
		{"created then deleted", []Operation{OpCreated, OpDeleted}, 0, true},
		{"modified then deleted", []Operation{OpModified, OpDeleted}, OpDeleted, false},
		{"deleted then created", []Operation{OpDeleted, OpCreated}, OpModified, false},
		{"deleted created deleted", []Operation{OpDeleted, OpCreated, OpDeleted}, OpDeleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(30*time.Millisecond, 4)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(Event{Path: "/docs/a.md", Op: op, Timestamp: time.Now()})
			}
			// Sentinel so an absent result still produces a batch.
			d.Add(Event{Path: "/docs/z.md", Op: OpModified, Timestamp: time.Now()})

			batch := receiveBatch(t, d.Output(), time.Second)
			var got *Event
			for i := range batch {
				if batch[i].Path == "/docs/a.md" {
					got = &batch[i]
				}
			}
			if tt.absent {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Op)
		})
	}
}

func TestDebouncer_PreservesArrivalOrder(t *testing.T) {
	// Given: events for three paths
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	for _, p := range []string{"/c.md", "/a.md", "/b.md", "/a.md"} {
		d.Add(Event{Path: p, Op: OpModified})
	}

	// Then: the batch follows first arrival
	batch := receiveBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 3)
	assert.Equal(t, "/c.md", batch[0].Path)
	assert.Equal(t, "/a.md", batch[1].Path)
	assert.Equal(t, "/b.md", batch[2].Path)
}

func TestDebouncer_SynthesizedOnlyWhenAllSynthesized(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	d.Add(Event{Path: "/a.md", Op: OpCreated, Synthesized: true})
	d.Add(Event{Path: "/a.md", Op: OpModified, Synthesized: false})

	batch := receiveBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 1)
	assert.False(t, batch[0].Synthesized)
}

func TestDebouncer_StopDiscardsPending(t *testing.T) {
	// Given: a pending event
	d := NewDebouncer(50*time.Millisecond, 4)
	d.Add(Event{Path: "/a.md", Op: OpModified})

	// When: the debouncer is stopped twice
	d.Stop()
	d.Stop()

	// Then: nothing is emitted and later adds are ignored
	d.Add(Event{Path: "/b.md", Op: OpModified})
	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch after stop: %v", batch)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestDebouncer_FullOutputBlocksInsteadOfDropping(t *testing.T) {
	// Given: an output channel of one slot that is already full
	d := NewDebouncer(10*time.Millisecond, 1)
	defer d.Stop()

	d.Add(Event{Path: "/a.md", Op: OpModified})
	time.Sleep(50 * time.Millisecond)
	d.Add(Event{Path: "/b.md", Op: OpModified})
	time.Sleep(50 * time.Millisecond)

	// Then: both batches arrive in order once drained
	first := receiveBatch(t, d.Output(), time.Second)
	second := receiveBatch(t, d.Output(), time.Second)
	assert.Equal(t, "/a.md", first[0].Path)
	assert.Equal(t, "/b.md", second[0].Path)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "created", OpCreated.String())
	assert.Equal(t, "modified", OpModified.String())
	assert.Equal(t, "deleted", OpDeleted.String())
	assert.Equal(t, "unknown", Operation(42).String())
}
