// Package sink adapts meeting.Listener callbacks to storage, cache, broker and chat outputs.
package sink

import (
	"context"
	"time"
	"voxmeet/internal/meeting"
	"voxmeet/pkg/model"
)

const writeTimeout = 5 * time.Second

// SpeakerLookup resolves a speaker id, usually meeting.Registry.Get
type SpeakerLookup func(id string) (model.Speaker, bool)

// Fanout forwards every callback to each listener in order
type Fanout []meeting.Listener

func (f Fanout) OnSegmentReady(segment model.Segment) {
	for _, l := range f {
		l.OnSegmentReady(segment)
	}
}

func (f Fanout) OnSpeakerDetected(speaker model.Speaker) {
	for _, l := range f {
		l.OnSpeakerDetected(speaker)
	}
}

func (f Fanout) OnChunkTranscribed(chunkID string) {
	for _, l := range f {
		l.OnChunkTranscribed(chunkID)
	}
}

func (f Fanout) OnChunkFailed(chunkID string, err error) {
	for _, l := range f {
		l.OnChunkFailed(chunkID, err)
	}
}

func (f Fanout) OnTranscriptionProgress(completed, total int) {
	for _, l := range f {
		l.OnTranscriptionProgress(completed, total)
	}
}

func (f Fanout) OnLiveText(text string) {
	for _, l := range f {
		l.OnLiveText(text)
	}
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), writeTimeout)
}
