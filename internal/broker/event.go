package broker

import (
	"encoding/json"
	"fmt"
	"time"
	"voxmeet/pkg/model"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSegmentReady     EventType = "segment_ready"
	EventSpeakerDetected  EventType = "speaker_detected"
	EventChunkTranscribed EventType = "chunk_transcribed"
	EventChunkFailed      EventType = "chunk_failed"
	EventProgress         EventType = "progress"
)

// Event is the envelope every meeting notification travels in
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	MeetingID string          `json:"meeting_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func NewEvent(meetingID string, typ EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}

	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		MeetingID: meetingID,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// RoutingKey is meeting.<type>.<meeting id>, so subscribers can filter either way
func (e Event) RoutingKey() string {
	return fmt.Sprintf("meeting.%s.%s", e.Type, e.MeetingID)
}

func (e Event) Decode(dest any) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ChunkFailure is the payload of EventChunkFailed
type ChunkFailure struct {
	ChunkID string `json:"chunk_id"`
	Error   string `json:"error"`
}

// ChunkTranscribed is the payload of EventChunkTranscribed
type ChunkTranscribed struct {
	ChunkID string `json:"chunk_id"`
}

// Progress is the payload of EventProgress
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// SegmentReady is the payload of EventSegmentReady. Speaker carries the label
// so consumers need no speaker lookup.
type SegmentReady struct {
	Segment model.Segment `json:"segment"`
	Speaker string        `json:"speaker"`
}
