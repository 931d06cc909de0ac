package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreaker_Closed(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)

	err := cb.Execute(func() error {
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)

	testErr := errors.New("test error")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error {
			return testErr
		})
		assert.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(func() error {
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)

	var open *OpenError
	require.ErrorAs(t, err, &open)
	assert.Greater(t, open.RetryAfter, time.Duration(0))
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(2, 100*time.Millisecond)

	testErr := errors.New("test error")

	for i := 0; i < 2; i++ {
		cb.Execute(func() error {
			return testErr
		})
	}

	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(150 * time.Millisecond)

	err := cb.Execute(func() error {
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errors.New("error") })
	}
	time.Sleep(80 * time.Millisecond)

	err := cb.Execute(func() error { return errors.New("still down") })

	assert.EqualError(t, err, "still down")
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)

	for i := 0; i < 2; i++ {
		cb.Execute(func() error {
			return errors.New("error")
		})
	}

	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestLinearBackoff(t *testing.T) {
	base := 2 * time.Second

	assert.Equal(t, 2*time.Second, LinearBackoff(base, 0))
	assert.Equal(t, 4*time.Second, LinearBackoff(base, 1))
	assert.Equal(t, 6*time.Second, LinearBackoff(base, 2))
	assert.Equal(t, 2*time.Second, LinearBackoff(base, -1))
}

func TestSleep_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Hour)

	assert.Equal(t, context.Canceled, err)
}

func TestSlidingWindow_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	sw := NewSlidingWindow(2, time.Minute).WithClock(clock.Now)

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())
	assert.Equal(t, 2, sw.Count())

	clock.Advance(time.Minute)

	assert.True(t, sw.Allow())
	assert.Equal(t, 1, sw.Count())
}

func TestSlidingWindow_DelayUntilOldestExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	sw := NewSlidingWindow(2, time.Minute).WithClock(clock.Now)

	sw.Record()
	clock.Advance(10 * time.Second)
	sw.Record()
	clock.Advance(5 * time.Second)

	assert.Equal(t, 45*time.Second, sw.Delay())

	clock.Advance(45 * time.Second)

	assert.Equal(t, time.Duration(0), sw.Delay())
	assert.Equal(t, 1, sw.Count())
}

func TestSlidingWindow_NeverExceedsLimitInAnyWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	sw := NewSlidingWindow(5, time.Minute).WithClock(clock.Now)

	var admitted []time.Time
	for i := 0; i < 600; i++ {
		if sw.Allow() {
			admitted = append(admitted, clock.Now())
		}
		clock.Advance(700 * time.Millisecond)
	}

	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < time.Minute; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, 5)
	}
	assert.NotEmpty(t, admitted)
}

func TestSlidingWindow_Unlimited(t *testing.T) {
	sw := NewSlidingWindow(0, time.Minute)

	for i := 0; i < 100; i++ {
		assert.True(t, sw.Allow())
	}
	assert.Equal(t, time.Duration(0), sw.Delay())
}

func TestSlidingWindow_Wait(t *testing.T) {
	sw := NewSlidingWindow(1, 100*time.Millisecond)
	ctx := context.Background()

	sw.Allow()

	start := time.Now()
	err := sw.Wait(ctx)
	duration := time.Since(start)

	assert.NoError(t, err)
	assert.True(t, duration >= 90*time.Millisecond)
}

func TestSlidingWindow_WaitWithTimeout(t *testing.T) {
	sw := NewSlidingWindow(1, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sw.Allow()

	err := sw.Wait(ctx)

	assert.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
}
