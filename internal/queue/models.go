package queue

import (
	"fmt"
	"time"
	"voxmeet/pkg/model"
)

// Task is one attempt to transcribe a chunk. Lower Priority is admitted sooner.
type Task struct {
	ID         string    `json:"id"`
	ChunkID    string    `json:"chunk_id"`
	Audio      []byte    `json:"-"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	seq   uint64
	index int
}

// CanRetry returns true if another attempt is allowed after a failure
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// EventType classifies queue events
type EventType int

const (
	// EventCompleted carries a successful result
	EventCompleted EventType = iota
	// EventRetrying reports a failed attempt that will be retried
	EventRetrying
	// EventFailed reports a task whose retries are exhausted
	EventFailed
	// EventRateLimited reports that admission is paused until the window frees up
	EventRateLimited
	// EventDeferred reports a task the backend refused without attempting it.
	// The task keeps its retry budget and waits for the backend to recover.
	EventDeferred
)

func (e EventType) String() string {
	switch e {
	case EventCompleted:
		return "completed"
	case EventRetrying:
		return "retrying"
	case EventFailed:
		return "failed"
	case EventRateLimited:
		return "rate_limited"
	case EventDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Event is pushed to the queue's event channel whenever a task changes state
type Event struct {
	Type   EventType
	Task   Task
	Result *model.Result
	Err    error
	// Wait is the backoff before the next attempt (EventRetrying) or admission (EventRateLimited, EventDeferred)
	Wait time.Duration
}

// Status is a point-in-time snapshot of the queue
type Status struct {
	Pending        int  `json:"pending"`
	InProgress     int  `json:"in_progress"`
	Retrying       int  `json:"retrying"`
	Paused         bool `json:"is_paused"`
	RecentRequests int  `json:"recent_requests"`
}
