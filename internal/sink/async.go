package sink

import (
	"sync"
	"voxmeet/internal/meeting"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"go.uber.org/zap"
)

// Async runs a slow listener on its own goroutine. Callbacks are queued in
// order; a full buffer blocks the caller rather than dropping transcript data.
type Async struct {
	next meeting.Listener
	jobs chan func()
	log  *zap.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

func NewAsync(next meeting.Listener, buffer int) *Async {
	if buffer < 1 {
		buffer = 1
	}

	a := &Async{
		next: next,
		jobs: make(chan func(), buffer),
		log:  logger.Named("sink"),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)

	for job := range a.jobs {
		a.safely(job)
	}
}

func (a *Async) safely(job func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("Listener panicked", zap.Any("panic", r))
		}
	}()
	job()
}

func (a *Async) submit(job func()) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.log.Warn("Dropping callback after close")
		return
	}
	if len(a.jobs) == cap(a.jobs) {
		a.log.Warn("Listener buffer full, blocking", zap.Int("buffer", cap(a.jobs)))
	}
	a.jobs <- job
}

// Close waits until every queued callback has run
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.jobs)
		a.mu.Unlock()
	})
	<-a.done
}

func (a *Async) OnSegmentReady(segment model.Segment) {
	a.submit(func() { a.next.OnSegmentReady(segment) })
}

func (a *Async) OnSpeakerDetected(speaker model.Speaker) {
	a.submit(func() { a.next.OnSpeakerDetected(speaker) })
}

func (a *Async) OnChunkTranscribed(chunkID string) {
	a.submit(func() { a.next.OnChunkTranscribed(chunkID) })
}

func (a *Async) OnChunkFailed(chunkID string, err error) {
	a.submit(func() { a.next.OnChunkFailed(chunkID, err) })
}

func (a *Async) OnTranscriptionProgress(completed, total int) {
	a.submit(func() { a.next.OnTranscriptionProgress(completed, total) })
}

func (a *Async) OnLiveText(text string) {
	a.submit(func() { a.next.OnLiveText(text) })
}
