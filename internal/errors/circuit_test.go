package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreaker_OpensAfterMaxFailuresInWindow(t *testing.T) {
	// Given: a breaker allowing 3 failures in 1s
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("a.md", WithMaxFailures(3), WithWindow(time.Second), WithClock(clk.now))

	// When: three failures arrive within the window
	assert.False(t, cb.RecordFailure())
	clk.advance(100 * time.Millisecond)
	assert.False(t, cb.RecordFailure())
	clk.advance(100 * time.Millisecond)
	opened := cb.RecordFailure()

	// Then: the circuit opens
	assert.True(t, opened)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_StreakRestartsAfterWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("a.md", WithMaxFailures(2), WithWindow(time.Second), WithClock(clk.now))

	cb.RecordFailure()
	clk.advance(2 * time.Second)

	// A failure outside the window starts over
	assert.False(t, cb.RecordFailure())
	assert.Equal(t, 1, cb.Failures())
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker("a.md", WithMaxFailures(1))
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_HalfOpenAfterReset(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("a.md", WithMaxFailures(1), WithResetTimeout(time.Second), WithClock(clk.now))
	cb.RecordFailure()

	clk.advance(2 * time.Second)

	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker("a.md", WithMaxFailures(1))

	err := cb.Execute(func() error { return errors.New("fail") })
	assert.Error(t, err)

	err = cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakers_OnePerKey(t *testing.T) {
	b := NewBreakers(WithMaxFailures(1))

	a := b.Get("a.md")
	assert.Same(t, a, b.Get("a.md"))
	assert.NotSame(t, a, b.Get("b.md"))

	a.RecordFailure()
	b.Forget("a.md")
	assert.Equal(t, StateClosed, b.Get("a.md").State())
}
