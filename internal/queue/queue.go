package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"
	"voxmeet/pkg/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEmptyPayload = errors.New("empty audio payload")
	ErrClosed       = errors.New("queue is closed")
)

// Transcriber is the external speech-to-text service the queue drains into
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error)
}

// Options tunes admission, retry and event delivery. Start from DefaultOptions:
// zero MaxConcurrent, RequestsPerMinute, Window, EventBuffer and PollInterval
// take their defaults, while zero MaxRetries, RetryDelay and RetryPriorityPenalty
// are honoured as given.
type Options struct {
	MaxConcurrent int
	// RequestsPerMinute caps admissions per Window; negative disables the limit
	RequestsPerMinute int
	// Window is the rate limiter's trailing window; one minute unless overridden
	Window time.Duration
	// RetryDelay is multiplied by the attempt number
	RetryDelay time.Duration
	// MaxRetries is the number of attempts after the first; zero means no retries
	MaxRetries           int
	RetryPriorityPenalty int
	Language             string
	EventBuffer          int
	PollInterval         time.Duration
}

// DefaultOptions stays under a typical 60 requests/minute provider ceiling
func DefaultOptions() Options {
	return Options{
		MaxConcurrent:        3,
		RequestsPerMinute:    50,
		Window:               time.Minute,
		RetryDelay:           2 * time.Second,
		MaxRetries:           3,
		RetryPriorityPenalty: 1,
		EventBuffer:          64,
		PollInterval:         100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = def.MaxConcurrent
	}
	if o.RequestsPerMinute == 0 {
		o.RequestsPerMinute = def.RequestsPerMinute
	}
	if o.Window <= 0 {
		o.Window = def.Window
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = def.EventBuffer
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	return o
}

// Queue runs transcription tasks in priority order with bounded concurrency,
// sliding-window rate limiting and linear-backoff retries.
type Queue struct {
	opts    Options
	backend Transcriber
	limiter *resilience.SlidingWindow
	log     *zap.Logger

	mu         sync.Mutex
	pending    pendingHeap
	inProgress map[string]*Task
	retrying   int
	paused     bool
	closed     bool
	backoff    *time.Timer
	holdUntil  time.Time
	seq        uint64

	events       chan Event
	sendMu       sync.RWMutex
	eventsClosed bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a queue draining into backend
func New(backend Transcriber, opts Options) *Queue {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		opts:       opts,
		backend:    backend,
		limiter:    resilience.NewSlidingWindow(opts.RequestsPerMinute, opts.Window),
		log:        logger.Named("queue"),
		inProgress: make(map[string]*Task),
		events:     make(chan Event, opts.EventBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Options returns the effective configuration
func (q *Queue) Options() Options {
	return q.opts
}

// Events delivers completion, retry, failure and rate-limit events.
// It is closed by Close once every worker has exited.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// NewTask builds a first-attempt task using the queue's retry budget
func (q *Queue) NewTask(chunkID string, audio []byte, priority int) Task {
	return Task{
		ID:         uuid.New().String(),
		ChunkID:    chunkID,
		Audio:      audio,
		Priority:   priority,
		MaxRetries: q.opts.MaxRetries,
	}
}

// Enqueue adds a task and starts draining. It never waits for the task to run.
func (q *Queue) Enqueue(task Task) (string, error) {
	if len(task.Audio) == 0 {
		return "", fmt.Errorf("%w: chunk %s", ErrEmptyPayload, task.ChunkID)
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.MaxRetries < 0 {
		task.MaxRetries = 0
	}
	if task.RetryCount > task.MaxRetries {
		task.RetryCount = task.MaxRetries
	}
	task.EnqueuedAt = time.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.pushLocked(&task)
	q.mu.Unlock()

	q.log.Debug("Task enqueued",
		zap.String("task_id", task.ID),
		zap.String("chunk_id", task.ChunkID),
		zap.Int("priority", task.Priority))

	q.drain()
	return task.ID, nil
}

func (q *Queue) pushLocked(task *Task) {
	q.seq++
	task.seq = q.seq
	heap.Push(&q.pending, task)
}

// Dequeue removes a task that has not been admitted yet
func (q *Queue) Dequeue(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.pending.find(taskID)
	if i < 0 {
		return false
	}
	heap.Remove(&q.pending, i)
	return true
}

// Pause stops admitting tasks; running tasks finish normally
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()

	q.log.Info("Queue paused")
}

// Resume re-enables admission
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()

	q.log.Info("Queue resumed")
	q.drain()
}

// Status returns a snapshot of the queue
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Status{
		Pending:        q.pending.Len(),
		InProgress:     len(q.inProgress),
		Retrying:       q.retrying,
		Paused:         q.paused,
		RecentRequests: q.limiter.Count(),
	}
}

// IsComplete is true when nothing is pending, running or waiting to be retried
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() == 0 && len(q.inProgress) == 0 && q.retrying == 0
}

// WaitForCompletion polls until the queue is complete or timeout elapses.
// It reports whether the queue drained; a timeout cancels nothing.
func (q *Queue) WaitForCompletion(timeout time.Duration) bool {
	return pollUntil(q.IsComplete, timeout, q.opts.PollInterval)
}

func pollUntil(done func() bool, timeout, interval time.Duration) bool {
	if done() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return done()
		case <-ticker.C:
			if done() {
				return true
			}
		}
	}
}

// Close stops admission, cancels in-flight calls and retry sleeps, waits for
// workers to exit and closes the event channel.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.backoff != nil {
		q.backoff.Stop()
		q.backoff = nil
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.sendMu.Lock()
	q.eventsClosed = true
	close(q.events)
	q.sendMu.Unlock()
}

// drain admits pending tasks until the queue is paused, empty, saturated, held or rate limited.
// When rate limited it arms a single timer that calls drain again once the window frees.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.closed || q.paused || q.pending.Len() == 0 || len(q.inProgress) >= q.opts.MaxConcurrent {
			q.mu.Unlock()
			return
		}

		if hold := time.Until(q.holdUntil); hold > 0 {
			q.armBackoffLocked(hold)
			q.mu.Unlock()
			return
		}

		if wait := q.limiter.Delay(); wait > 0 {
			armed := q.armBackoffLocked(wait)
			q.mu.Unlock()

			if armed {
				q.log.Warn("Rate limit reached, delaying admission",
					zap.Int("requests_per_minute", q.opts.RequestsPerMinute),
					zap.Duration("wait", wait))
				q.emitNonBlocking(Event{Type: EventRateLimited, Wait: wait})
			}
			return
		}

		task := heap.Pop(&q.pending).(*Task)
		q.limiter.Record()
		q.inProgress[task.ID] = task
		q.wg.Add(1)
		q.mu.Unlock()

		q.log.Debug("Task admitted",
			zap.String("task_id", task.ID),
			zap.String("chunk_id", task.ChunkID),
			zap.Int("retry_count", task.RetryCount))

		go q.execute(task)
	}
}

func (q *Queue) armBackoffLocked(wait time.Duration) bool {
	if q.backoff != nil {
		return false
	}
	q.backoff = time.AfterFunc(wait, func() {
		q.mu.Lock()
		q.backoff = nil
		q.mu.Unlock()
		q.drain()
	})
	return true
}

func (q *Queue) execute(task *Task) {
	defer q.wg.Done()

	result, err := q.backend.Transcribe(q.ctx, task.Audio, q.opts.Language)

	q.mu.Lock()
	delete(q.inProgress, task.ID)

	var open *resilience.OpenError
	if errors.As(err, &open) {
		held := *task
		wait, extended := q.holdLocked(task, open.RetryAfter)
		q.mu.Unlock()

		q.log.Debug("Backend refused task, holding it",
			zap.String("task_id", held.ID),
			zap.String("chunk_id", held.ChunkID),
			zap.Duration("wait", wait))
		if extended {
			q.emitNonBlocking(Event{Type: EventDeferred, Task: held, Wait: wait})
		}
		return
	}

	if err == nil {
		q.mu.Unlock()

		if result == nil {
			result = &model.Result{}
		}
		result.ChunkID = task.ChunkID

		q.emit(Event{Type: EventCompleted, Task: *task, Result: result})
		q.drain()
		return
	}

	if !task.CanRetry() {
		q.mu.Unlock()

		q.log.Error("Task failed, retries exhausted",
			zap.String("task_id", task.ID),
			zap.String("chunk_id", task.ChunkID),
			zap.Int("retry_count", task.RetryCount),
			zap.Error(err))

		q.emit(Event{Type: EventFailed, Task: *task, Err: err})
		q.drain()
		return
	}

	q.retrying++
	q.mu.Unlock()

	wait := resilience.LinearBackoff(q.opts.RetryDelay, task.RetryCount)
	q.log.Warn("Task failed, scheduling retry",
		zap.String("task_id", task.ID),
		zap.String("chunk_id", task.ChunkID),
		zap.Int("retry_count", task.RetryCount),
		zap.Duration("backoff", wait),
		zap.Error(err))

	q.emit(Event{Type: EventRetrying, Task: *task, Err: err, Wait: wait})
	// the freed slot can serve other chunks while this one backs off
	q.drain()

	sleepErr := resilience.Sleep(q.ctx, wait)

	q.mu.Lock()
	q.retrying--
	if sleepErr != nil || q.closed {
		q.mu.Unlock()
		return
	}
	retry := *task
	retry.RetryCount++
	retry.Priority += q.opts.RetryPriorityPenalty
	retry.EnqueuedAt = time.Now()
	q.pushLocked(&retry)
	q.mu.Unlock()

	q.drain()
}

// holdLocked puts a task the backend refused to attempt back in line with its
// retry budget untouched, and stops admission until the backend takes calls again.
func (q *Queue) holdLocked(task *Task, wait time.Duration) (time.Duration, bool) {
	wait = max(wait, time.Millisecond)
	if q.closed {
		return wait, false
	}
	heap.Push(&q.pending, task)

	until := time.Now().Add(wait)
	extended := until.After(q.holdUntil)
	if extended {
		q.holdUntil = until
	}
	q.armBackoffLocked(wait)
	return wait, extended
}

func (q *Queue) emit(ev Event) {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.eventsClosed {
		return
	}

	select {
	case q.events <- ev:
	case <-q.ctx.Done():
	}
}

func (q *Queue) emitNonBlocking(ev Event) {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.eventsClosed {
		return
	}

	select {
	case q.events <- ev:
	default:
	}
}
