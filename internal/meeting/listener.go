package meeting

import "voxmeet/pkg/model"

// Listener receives the transcript as it grows. A Service calls it from a single
// goroutine, so callbacks never overlap. Implementations must return quickly
// and must not panic; wrap slow consumers in sink.Async.
type Listener interface {
	OnSegmentReady(segment model.Segment)
	OnSpeakerDetected(speaker model.Speaker)
	OnChunkTranscribed(chunkID string)
	OnChunkFailed(chunkID string, err error)
	OnTranscriptionProgress(completed, total int)
	OnLiveText(text string)
}

// NopListener ignores every callback. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnSegmentReady(model.Segment) {}
func (NopListener) OnSpeakerDetected(model.Speaker) {}
func (NopListener) OnChunkTranscribed(string) {}
func (NopListener) OnChunkFailed(string, error) {}
func (NopListener) OnTranscriptionProgress(int, int) {}
func (NopListener) OnLiveText(string) {}
