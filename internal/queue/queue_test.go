package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	"voxmeet/pkg/model"
	"voxmeet/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	failures  map[string]int
	calls     map[string]int
	order     []string
	release   chan struct{}
	delay     time.Duration
	active    int
	maxActive int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeBackend) Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error) {
	key := string(audio)

	f.mu.Lock()
	f.calls[key]++
	attempt := f.calls[key]
	f.order = append(f.order, key)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	release := f.release
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	failures := f.failures[key]
	f.mu.Unlock()
	if attempt <= failures {
		return nil, fmt.Errorf("provider unavailable (%s attempt %d)", key, attempt)
	}
	return &model.Result{Text: "text " + key}, nil
}

func (f *fakeBackend) callsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeBackend) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func record(q *Queue) *recorder {
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for ev := range q.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) count(typ EventType, chunkID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ev := range r.events {
		if ev.Type == typ && (chunkID == "" || ev.Task.ChunkID == chunkID) {
			n++
		}
	}
	return n
}

func (r *recorder) first(typ EventType, chunkID string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range r.events {
		if ev.Type == typ && ev.Task.ChunkID == chunkID {
			return ev, true
		}
	}
	return Event{}, false
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RequestsPerMinute = 100
	opts.RetryDelay = 10 * time.Millisecond
	opts.PollInterval = 5 * time.Millisecond
	return opts
}

// finish drains the queue, closes it and waits until every event was recorded
func finish(t *testing.T, q *Queue, r *recorder) {
	t.Helper()
	require.True(t, q.WaitForCompletion(5*time.Second), "queue did not drain")
	q.Close()
	<-r.done
}

func enqueueChunk(t *testing.T, q *Queue, chunkID string, priority int) string {
	t.Helper()
	id, err := q.Enqueue(q.NewTask(chunkID, []byte(chunkID), priority))
	require.NoError(t, err)
	return id
}

func TestQueue_BoundedConcurrencyOnEnqueue(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})

	opts := testOptions()
	opts.MaxConcurrent = 2
	q := New(backend, opts)
	r := record(q)

	enqueueChunk(t, q, "c0", 0)
	enqueueChunk(t, q, "c1", 1)

	status := q.Status()
	assert.Equal(t, 2, status.InProgress)
	assert.Equal(t, 0, status.Pending)

	enqueueChunk(t, q, "c2", 2)
	enqueueChunk(t, q, "c3", 3)
	enqueueChunk(t, q, "c4", 4)

	status = q.Status()
	assert.Equal(t, 2, status.InProgress)
	assert.Equal(t, 3, status.Pending)
	assert.False(t, q.IsComplete())

	close(backend.release)
	finish(t, q, r)

	assert.Equal(t, 5, r.count(EventCompleted, ""))
	assert.LessOrEqual(t, backend.maxActive, 2)
}

func TestQueue_NeverExceedsMaxConcurrent(t *testing.T) {
	backend := newFakeBackend()
	backend.delay = 3 * time.Millisecond

	opts := testOptions()
	opts.MaxConcurrent = 3
	opts.RequestsPerMinute = 1000
	q := New(backend, opts)
	r := record(q)

	for i := 0; i < 20; i++ {
		enqueueChunk(t, q, fmt.Sprintf("c%d", i), i)
		assert.LessOrEqual(t, q.Status().InProgress, 3)
	}

	finish(t, q, r)

	assert.Equal(t, 20, r.count(EventCompleted, ""))
	assert.LessOrEqual(t, backend.maxActive, 3)
}

func TestQueue_RateLimitDelaysAdmission(t *testing.T) {
	backend := newFakeBackend()

	opts := testOptions()
	opts.MaxConcurrent = 5
	opts.RequestsPerMinute = 2
	opts.Window = 300 * time.Millisecond
	q := New(backend, opts)
	r := record(q)

	start := time.Now()
	for i := 0; i < 5; i++ {
		enqueueChunk(t, q, fmt.Sprintf("c%d", i), i)
	}

	status := q.Status()
	assert.Equal(t, 3, status.Pending)
	assert.Equal(t, 2, status.RecentRequests)

	finish(t, q, r)
	elapsed := time.Since(start)

	assert.Equal(t, 5, r.count(EventCompleted, ""))
	assert.GreaterOrEqual(t, r.count(EventRateLimited, ""), 1)
	// the fifth request needs two full windows to expire
	assert.GreaterOrEqual(t, elapsed, 550*time.Millisecond)
}

func TestQueue_PriorityOrderWithStableTies(t *testing.T) {
	backend := newFakeBackend()

	opts := testOptions()
	opts.MaxConcurrent = 1
	q := New(backend, opts)
	r := record(q)

	q.Pause()
	enqueueChunk(t, q, "p3", 3)
	enqueueChunk(t, q, "p1-first", 1)
	enqueueChunk(t, q, "p2", 2)
	enqueueChunk(t, q, "p1-second", 1)
	q.Resume()

	finish(t, q, r)

	assert.Equal(t, []string{"p1-first", "p1-second", "p2", "p3"}, backend.callOrder())
}

func TestQueue_RetryThenSuccess(t *testing.T) {
	backend := newFakeBackend()
	backend.failures["c0"] = 2

	opts := testOptions()
	opts.MaxRetries = 3
	q := New(backend, opts)
	r := record(q)

	enqueueChunk(t, q, "c0", 0)
	finish(t, q, r)

	assert.Equal(t, 3, backend.callsFor("c0"))
	assert.Equal(t, 2, r.count(EventRetrying, "c0"))
	assert.Equal(t, 1, r.count(EventCompleted, "c0"))
	assert.Equal(t, 0, r.count(EventFailed, "c0"))

	ev, ok := r.first(EventCompleted, "c0")
	require.True(t, ok)
	assert.Equal(t, 2, ev.Task.RetryCount)
	assert.Equal(t, 2, ev.Task.Priority)
	assert.Equal(t, "c0", ev.Result.ChunkID)
	assert.Equal(t, "text c0", ev.Result.Text)
}

func TestQueue_RetriesExhausted(t *testing.T) {
	backend := newFakeBackend()
	backend.failures["c0"] = 4

	opts := testOptions()
	opts.MaxRetries = 3
	q := New(backend, opts)
	r := record(q)

	enqueueChunk(t, q, "c0", 0)
	finish(t, q, r)

	assert.Equal(t, 4, backend.callsFor("c0"))
	assert.Equal(t, 3, r.count(EventRetrying, "c0"))
	assert.Equal(t, 1, r.count(EventFailed, "c0"))
	assert.Equal(t, 0, r.count(EventCompleted, "c0"))

	ev, ok := r.first(EventFailed, "c0")
	require.True(t, ok)
	assert.Equal(t, 3, ev.Task.RetryCount)
	assert.Error(t, ev.Err)
}

func TestQueue_FailureDoesNotAbortSiblings(t *testing.T) {
	backend := newFakeBackend()
	backend.failures["bad"] = 100

	opts := testOptions()
	opts.MaxRetries = 1
	q := New(backend, opts)
	r := record(q)

	enqueueChunk(t, q, "bad", 0)
	enqueueChunk(t, q, "good-1", 1)
	enqueueChunk(t, q, "good-2", 2)
	finish(t, q, r)

	assert.Equal(t, 1, r.count(EventFailed, "bad"))
	assert.Equal(t, 1, r.count(EventCompleted, "good-1"))
	assert.Equal(t, 1, r.count(EventCompleted, "good-2"))
}

func TestQueue_RetryingTaskKeepsQueueIncomplete(t *testing.T) {
	backend := newFakeBackend()
	backend.failures["c0"] = 1

	opts := testOptions()
	opts.RetryDelay = 300 * time.Millisecond
	q := New(backend, opts)
	r := record(q)

	enqueueChunk(t, q, "c0", 0)

	assert.Eventually(t, func() bool {
		return q.Status().Retrying == 1
	}, time.Second, 5*time.Millisecond)

	status := q.Status()
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, 0, status.InProgress)
	assert.False(t, q.IsComplete())

	finish(t, q, r)
	assert.Equal(t, 1, r.count(EventCompleted, "c0"))
}

func TestQueue_Dequeue(t *testing.T) {
	backend := newFakeBackend()
	q := New(backend, testOptions())
	r := record(q)

	q.Pause()
	first := enqueueChunk(t, q, "c0", 0)
	enqueueChunk(t, q, "c1", 1)

	assert.True(t, q.Dequeue(first))
	assert.False(t, q.Dequeue(first))
	assert.False(t, q.Dequeue("unknown"))
	assert.Equal(t, 1, q.Status().Pending)

	q.Resume()
	finish(t, q, r)

	assert.Equal(t, 0, backend.callsFor("c0"))
	assert.Equal(t, 1, backend.callsFor("c1"))
}

func TestQueue_DequeueInProgressIsNoop(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})
	q := New(backend, testOptions())
	r := record(q)

	id := enqueueChunk(t, q, "c0", 0)
	assert.Equal(t, 1, q.Status().InProgress)
	assert.False(t, q.Dequeue(id))

	close(backend.release)
	finish(t, q, r)
	assert.Equal(t, 1, r.count(EventCompleted, "c0"))
}

func TestQueue_PauseKeepsRunningTasks(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})

	opts := testOptions()
	opts.MaxConcurrent = 1
	q := New(backend, opts)
	r := record(q)

	enqueueChunk(t, q, "c0", 0)
	enqueueChunk(t, q, "c1", 1)
	q.Pause()

	close(backend.release)
	assert.Eventually(t, func() bool {
		return q.Status().InProgress == 0
	}, time.Second, 5*time.Millisecond)

	status := q.Status()
	assert.True(t, status.Paused)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 0, backend.callsFor("c1"))

	q.Resume()
	finish(t, q, r)
	assert.Equal(t, 1, backend.callsFor("c1"))
}

func TestQueue_EmptyPayloadRejected(t *testing.T) {
	q := New(newFakeBackend(), testOptions())
	defer q.Close()

	_, err := q.Enqueue(Task{ChunkID: "c0"})

	assert.ErrorIs(t, err, ErrEmptyPayload)
	assert.True(t, q.IsComplete())
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := New(newFakeBackend(), testOptions())
	q.Close()

	_, err := q.Enqueue(q.NewTask("c0", []byte("c0"), 0))

	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_WaitForCompletionTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})
	q := New(backend, testOptions())
	r := record(q)

	enqueueChunk(t, q, "c0", 0)

	start := time.Now()
	done := q.WaitForCompletion(50 * time.Millisecond)

	assert.False(t, done)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, q.Status().InProgress)

	close(backend.release)
	finish(t, q, r)
}

func TestQueue_IsCompleteOnEmptyQueue(t *testing.T) {
	q := New(newFakeBackend(), testOptions())
	defer q.Close()

	assert.True(t, q.IsComplete())
	assert.True(t, q.WaitForCompletion(time.Millisecond))
}

func TestPendingHeap_Order(t *testing.T) {
	q := New(newFakeBackend(), testOptions())
	defer q.Close()

	q.mu.Lock()
	for i, p := range []int{5, 1, 3, 1, 0} {
		q.pushLocked(&Task{ID: fmt.Sprintf("t%d", i), Priority: p})
	}
	var ids []string
	for q.pending.Len() > 0 {
		ids = append(ids, popTask(q).ID)
	}
	q.mu.Unlock()

	assert.Equal(t, []string{"t4", "t1", "t3", "t2", "t0"}, ids)
}

func popTask(q *Queue) *Task {
	return heap.Pop(&q.pending).(*Task)
}

// refusingBackend rejects its first n calls without attempting them
type refusingBackend struct {
	mu      sync.Mutex
	refuse  int
	calls   int
	attempt int
}

func (b *refusingBackend) Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.refuse {
		return nil, &resilience.OpenError{RetryAfter: 30 * time.Millisecond}
	}
	b.attempt++
	return &model.Result{Text: string(audio)}, nil
}

func TestQueue_RefusedTaskKeepsRetryBudget(t *testing.T) {
	backend := &refusingBackend{refuse: 6}
	opts := testOptions()
	opts.MaxRetries = 0
	q := New(backend, opts)
	r := record(q)

	enqueueChunk(t, q, "a", 0)

	assert.Eventually(t, func() bool {
		return r.count(EventDeferred, "a") > 0
	}, time.Second, time.Millisecond)
	assert.False(t, q.IsComplete())

	finish(t, q, r)

	ev, ok := r.first(EventCompleted, "a")
	require.True(t, ok)
	assert.Zero(t, ev.Task.RetryCount)
	assert.Zero(t, r.count(EventFailed, ""))
	assert.Zero(t, r.count(EventRetrying, ""))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 7, backend.calls)
	assert.Equal(t, 1, backend.attempt)
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{MaxConcurrent: 2}.withDefaults()

	assert.Equal(t, 2, opts.MaxConcurrent)
	assert.Equal(t, 50, opts.RequestsPerMinute)
	assert.Equal(t, time.Minute, opts.Window)
	assert.Zero(t, opts.MaxRetries)

	unlimited := Options{RequestsPerMinute: -1}.withDefaults()
	assert.Equal(t, -1, unlimited.RequestsPerMinute)
	q := New(newFakeBackend(), unlimited)
	defer q.Close()
	assert.Zero(t, q.limiter.Delay())
}
