package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError rejects a call without running it. It matches ErrCircuitOpen.
type OpenError struct {
	// RetryAfter is the time left until the breaker lets a probe through
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return ErrCircuitOpen.Error()
}

func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type CircuitBreaker struct {
	maxFailures  uint32
	timeout      time.Duration
	state        State
	failures     uint32
	lastFailTime time.Time
	mu           sync.RWMutex
}

func NewCircuitBreaker(maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       StateClosed,
	}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()

	if cb.state == StateOpen {
		elapsed := time.Since(cb.lastFailTime)
		if elapsed > cb.timeout {
			cb.state = StateHalfOpen
			cb.failures = 0
		} else {
			cb.mu.Unlock()
			return &OpenError{RetryAfter: cb.timeout - elapsed}
		}
	}

	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()

		// a failed probe reopens immediately
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}

		return err
	}

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
	}

	cb.failures = 0
	return nil
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}

// LinearBackoff returns the pause before retry number retryCount+1: base*(retryCount+1).
func LinearBackoff(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return base * time.Duration(retryCount+1)
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SlidingWindow admits at most limit requests within any trailing window.
// Its decisions depend only on the recorded timestamps and the clock.
type SlidingWindow struct {
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
	mu     sync.Mutex
}

// NewSlidingWindow creates a limiter. A non-positive limit disables limiting.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock, mainly for tests
func (w *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
	return w
}

// prune drops timestamps that fell out of the window. Caller holds mu.
func (w *SlidingWindow) prune(now time.Time) {
	cutoff := 0
	for cutoff < len(w.stamps) && now.Sub(w.stamps[cutoff]) >= w.window {
		cutoff++
	}
	if cutoff > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[cutoff:]...)
	}
}

// Count returns the number of requests recorded in the current window
func (w *SlidingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.stamps)
}

// Delay returns how long until one more request may be admitted; zero means now.
func (w *SlidingWindow) Delay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delayLocked(w.now())
}

func (w *SlidingWindow) delayLocked(now time.Time) time.Duration {
	if w.limit <= 0 {
		return 0
	}
	w.prune(now)
	if len(w.stamps) < w.limit {
		return 0
	}
	wait := w.window - now.Sub(w.stamps[0])
	if wait <= 0 {
		// expiry boundary; still report a positive wait so callers sleep instead of spinning
		wait = time.Millisecond
	}
	return wait
}

// Record registers a request at the current time
func (w *SlidingWindow) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamps = append(w.stamps, w.now())
}

// Allow records a request and returns true if the window has room
func (w *SlidingWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.delayLocked(now) > 0 {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Wait blocks until a request is admitted and recorded, or ctx is done
func (w *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if w.Allow() {
			return nil
		}
		if err := Sleep(ctx, w.Delay()); err != nil {
			return err
		}
	}
}
