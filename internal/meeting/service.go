package meeting

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"voxmeet/internal/queue"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidChunk   = errors.New("invalid chunk")
	ErrDuplicateChunk = errors.New("chunk already submitted")
)

const defaultConfidence = 1.0

// State is the lifecycle of a meeting session
type State string

const (
	StateIdle     State = "idle"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateDraining State = "draining"
)

// Status combines the queue snapshot with per-chunk outcome counters.
// Completed+Failed never exceeds Total.
type Status struct {
	queue.Status
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Total     int   `json:"total"`
	State     State `json:"state"`
}

type Options struct {
	// MeetingID identifies the session in sinks; generated when empty
	MeetingID string
	Queue     queue.Options
	// Registry and Detector default to a fresh registry with the marker heuristic
	Registry *Registry
	Detector Detector
}

type rejection struct {
	chunkID string
	err     error
}

type anchor struct {
	start int64
	end   int64
}

// Service turns completed transcription tasks of one meeting into ordered,
// speaker-attributed segments. It owns its queue; discard it with Close.
type Service struct {
	id       string
	queue    *queue.Queue
	listener Listener
	registry *Registry
	detector Detector
	log      *zap.Logger

	mu            sync.Mutex
	anchors       map[string]anchor
	transcribed   map[string]struct{}
	failed        int
	settled       int
	total         int
	activeSpeaker string
	draining      bool

	rejected chan rejection
	done     chan struct{}
}

func NewService(backend queue.Transcriber, listener Listener, opts Options) *Service {
	if listener == nil {
		listener = NopListener{}
	}
	if opts.MeetingID == "" {
		opts.MeetingID = uuid.New().String()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Detector == nil {
		opts.Detector = NewMarkerDetector(opts.Registry)
	}

	s := &Service{
		id:          opts.MeetingID,
		queue:       queue.New(backend, opts.Queue),
		listener:    listener,
		registry:    opts.Registry,
		detector:    opts.Detector,
		log:         logger.Named("meeting").With(zap.String("meeting_id", opts.MeetingID)),
		anchors:     make(map[string]anchor),
		transcribed: make(map[string]struct{}),
		rejected:    make(chan rejection, 16),
		done:        make(chan struct{}),
	}
	s.registry.OnCreate(s.speakerCreated)

	go s.run()
	return s
}

func (s *Service) ID() string {
	return s.id
}

// ProcessChunk records the chunk's timeline anchor and submits it with its
// index as priority. Invalid chunks are counted as failed at once and reported
// to the listener from the event loop; they are never dispatched.
func (s *Service) ProcessChunk(chunk model.Chunk) error {
	if err := chunk.Validate(); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidChunk, err)

		s.mu.Lock()
		s.total++
		s.failed++
		s.mu.Unlock()

		s.log.Warn("Rejected chunk", zap.String("chunk_id", chunk.ID), zap.Error(err))
		select {
		case s.rejected <- rejection{chunkID: chunk.ID, err: err}:
		case <-s.done:
		}
		return err
	}

	s.mu.Lock()
	if _, dup := s.anchors[chunk.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateChunk, chunk.ID)
	}
	s.anchors[chunk.ID] = anchor{start: chunk.StartTime, end: chunk.EndTime}
	s.total++
	s.mu.Unlock()

	task := s.queue.NewTask(chunk.ID, chunk.Audio, chunk.Index)
	if _, err := s.queue.Enqueue(task); err != nil {
		s.mu.Lock()
		delete(s.anchors, chunk.ID)
		s.total--
		s.mu.Unlock()
		return fmt.Errorf("failed to enqueue chunk %s: %w", chunk.ID, err)
	}

	s.log.Debug("Chunk submitted",
		zap.String("chunk_id", chunk.ID),
		zap.Int("index", chunk.Index),
		zap.Int64("start_time", chunk.StartTime))

	return nil
}

// SetActiveSpeaker overrides attribution for every result completed from now on,
// including chunks submitted before the call. An empty id clears the override.
func (s *Service) SetActiveSpeaker(speakerID string) {
	s.mu.Lock()
	s.activeSpeaker = speakerID
	s.mu.Unlock()

	s.log.Info("Active speaker set", zap.String("speaker_id", speakerID))
}

// RegisterSpeaker adds a user-created speaker without a detection callback
func (s *Service) RegisterSpeaker(speaker model.Speaker) {
	if s.registry.Register(speaker) {
		s.log.Info("Speaker registered",
			zap.String("speaker_id", speaker.ID),
			zap.String("label", speaker.Label))
	}
}

func (s *Service) Speakers() []model.Speaker {
	return s.registry.Speakers()
}

func (s *Service) Pause() {
	s.queue.Pause()
}

func (s *Service) Resume() {
	s.queue.Resume()
}

func (s *Service) Status() Status {
	qs := s.queue.Status()

	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Status:    qs,
		Completed: len(s.transcribed),
		Failed:    s.failed,
		Total:     s.total,
		State:     s.stateLocked(qs.Paused),
	}
}

func (s *Service) State() State {
	paused := s.queue.Status().Paused

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(paused)
}

func (s *Service) stateLocked(paused bool) State {
	switch {
	case s.total == 0:
		return StateIdle
	case paused:
		return StatePaused
	case s.draining:
		return StateDraining
	default:
		return StateActive
	}
}

// IsComplete is true once the queue is empty and every submitted chunk has
// been turned into segments or reported as failed.
func (s *Service) IsComplete() bool {
	if !s.queue.IsComplete() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled == s.total
}

// WaitForCompletion blocks until IsComplete or the timeout. A timeout is not an
// error: in-flight work continues and may still deliver segments afterwards.
func (s *Service) WaitForCompletion(timeout time.Duration) bool {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	if s.IsComplete() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.queue.Options().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			done := s.IsComplete()
			if !done {
				status := s.Status()
				s.log.Warn("Drain timed out",
					zap.Int("pending", status.Pending),
					zap.Int("in_progress", status.InProgress),
					zap.Int("completed", status.Completed),
					zap.Int("total", status.Total))
			}
			return done
		case <-ticker.C:
			if s.IsComplete() {
				return true
			}
		}
	}
}

// Close shuts the queue down and waits for the event loop to finish
func (s *Service) Close() {
	s.queue.Close()
	<-s.done
}

// run is the only goroutine that calls the listener
func (s *Service) run() {
	defer close(s.done)

	events := s.queue.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case r := <-s.rejected:
			s.handleRejected(r)
		}
	}
}

func (s *Service) handleEvent(ev queue.Event) {
	switch ev.Type {
	case queue.EventCompleted:
		s.handleResult(ev.Result)
	case queue.EventFailed:
		s.handleFailure(ev.Task.ChunkID, ev.Err)
	case queue.EventRetrying:
		s.log.Debug("Chunk will be retried",
			zap.String("chunk_id", ev.Task.ChunkID),
			zap.Int("retry_count", ev.Task.RetryCount),
			zap.Duration("backoff", ev.Wait),
			zap.Error(ev.Err))
	case queue.EventRateLimited:
		s.log.Debug("Transcription rate limited", zap.Duration("wait", ev.Wait))
	case queue.EventDeferred:
		s.log.Warn("Transcription backend unavailable, holding chunks", zap.Duration("wait", ev.Wait))
	}
}

func (s *Service) handleRejected(r rejection) {
	s.listener.OnChunkFailed(r.chunkID, r.err)

	s.mu.Lock()
	s.settled++
	s.mu.Unlock()
}

func (s *Service) handleResult(res *model.Result) {
	s.mu.Lock()
	anc, ok := s.anchors[res.ChunkID]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("Dropping result for unknown chunk", zap.String("chunk_id", res.ChunkID))
		return
	}
	if _, seen := s.transcribed[res.ChunkID]; seen {
		s.mu.Unlock()
		return
	}
	s.transcribed[res.ChunkID] = struct{}{}
	s.mu.Unlock()

	s.listener.OnLiveText(res.Text)

	for _, seg := range s.buildSegments(anc, res) {
		s.listener.OnSegmentReady(seg)
	}
	s.listener.OnChunkTranscribed(res.ChunkID)

	s.mu.Lock()
	s.settled++
	completed, total := len(s.transcribed), s.total
	s.mu.Unlock()

	s.listener.OnTranscriptionProgress(completed, total)
}

func (s *Service) handleFailure(chunkID string, err error) {
	s.mu.Lock()
	if _, ok := s.anchors[chunkID]; !ok {
		s.mu.Unlock()
		return
	}
	s.failed++
	s.mu.Unlock()

	s.log.Error("Chunk transcription failed", zap.String("chunk_id", chunkID), zap.Error(err))
	s.listener.OnChunkFailed(chunkID, err)

	s.mu.Lock()
	s.settled++
	s.mu.Unlock()
}

// buildSegments anchors the result on the meeting timeline. Sub-segments are
// kept inside the chunk and never overlap each other.
func (s *Service) buildSegments(anc anchor, res *model.Result) []model.Segment {
	if len(res.SubSegments) == 0 {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			return nil
		}
		return []model.Segment{s.newSegment(res.ChunkID, anc.start, anc.end, text, defaultConfidence)}
	}

	segments := make([]model.Segment, 0, len(res.SubSegments))
	prevEnd := anc.start
	for _, sub := range res.SubSegments {
		text := strings.TrimSpace(sub.Text)
		if text == "" {
			continue
		}

		start := anc.start + secondsToMs(sub.Start)
		end := anc.start + secondsToMs(sub.End)
		if start < prevEnd {
			start = prevEnd
		}
		if anc.end > anc.start {
			start = min(start, anc.end)
			end = min(end, anc.end)
		}
		if end < start {
			end = start
		}
		prevEnd = end

		confidence := sub.Confidence
		if confidence <= 0 {
			confidence = defaultConfidence
		}
		segments = append(segments, s.newSegment(res.ChunkID, start, end, text, confidence))
	}
	return segments
}

func secondsToMs(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

func (s *Service) newSegment(chunkID string, start, end int64, text string, confidence float64) model.Segment {
	speakerID := s.attribute(text, start)
	s.registry.AddSegment(speakerID, end-start)

	return model.Segment{
		ID:         uuid.New().String(),
		ChunkID:    chunkID,
		StartTime:  start,
		EndTime:    end,
		Text:       text,
		SpeakerID:  speakerID,
		Confidence: confidence,
	}
}

// attribute applies the manual override first, then the detector
func (s *Service) attribute(text string, timestamp int64) string {
	s.mu.Lock()
	manual := s.activeSpeaker
	s.mu.Unlock()

	if manual != "" {
		if _, ok := s.registry.Get(manual); ok {
			return manual
		}
	}
	return s.detector.DetectSpeaker(text, timestamp)
}

func (s *Service) speakerCreated(sp model.Speaker) {
	s.log.Info("Speaker detected", zap.String("speaker_id", sp.ID), zap.String("label", sp.Label))
	s.listener.OnSpeakerDetected(sp)
}
