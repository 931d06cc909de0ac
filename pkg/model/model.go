package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Chunk is a fixed time-window slice of captured audio.
// StartTime and EndTime are meeting-relative milliseconds.
type Chunk struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Audio     []byte `json:"-"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Validate checks that the chunk can be sent for transcription
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chunk id cannot be empty")
	}
	if c.Index < 0 {
		return fmt.Errorf("chunk index cannot be negative")
	}
	if c.StartTime < 0 {
		return fmt.Errorf("start_time cannot be negative")
	}
	if c.EndTime < c.StartTime {
		return fmt.Errorf("end_time must not precede start_time")
	}
	if len(c.Audio) == 0 {
		return fmt.Errorf("audio payload is empty")
	}
	return nil
}

// Duration returns the chunk's length on the meeting timeline
func (c *Chunk) Duration() time.Duration {
	return time.Duration(c.EndTime-c.StartTime) * time.Millisecond
}

// SubSegment is a span reported by the transcription provider.
// Start and End are seconds relative to the chunk start.
type SubSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result is the raw output of one successful transcription call
type Result struct {
	ChunkID     string        `json:"chunk_id"`
	Text        string        `json:"text"`
	Language    string        `json:"language,omitempty"`
	SubSegments []SubSegment  `json:"sub_segments,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Segment is a speaker-attributed span of text on the absolute meeting timeline (ms).
type Segment struct {
	ID         string  `json:"id"`
	ChunkID    string  `json:"chunk_id"`
	StartTime  int64   `json:"start_time"`
	EndTime    int64   `json:"end_time"`
	Text       string  `json:"text"`
	SpeakerID  string  `json:"speaker_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Speaker is a participant known to the meeting
type Speaker struct {
	ID                string `json:"id"`
	Label             string `json:"label"`
	Color             string `json:"color"`
	SegmentCount      int    `json:"segment_count"`
	TotalSpeakingTime int64  `json:"total_speaking_time"`
}

// SortSegments orders segments by start time, keeping emission order for ties
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})
}

// FormatTimestamp renders meeting-relative milliseconds as mm:ss or hh:mm:ss
func FormatTimestamp(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatTranscript renders segments in timeline order, one line per segment
func FormatTranscript(segments []Segment, speakers map[string]Speaker) string {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	SortSegments(sorted)

	var b strings.Builder
	for _, seg := range sorted {
		label := "Unknown"
		if sp, ok := speakers[seg.SpeakerID]; ok {
			label = sp.Label
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", FormatTimestamp(seg.StartTime), label, seg.Text)
	}
	return b.String()
}
