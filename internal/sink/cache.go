package sink

import (
	"voxmeet/pkg/cache"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"go.uber.org/zap"
)

// Cache mirrors the growing transcript into the live cache
type Cache struct {
	cache     cache.Transcript
	meetingID string
	log       *zap.Logger
}

func NewCache(c cache.Transcript, meetingID string) *Cache {
	return &Cache{
		cache:     c,
		meetingID: meetingID,
		log:       logger.Named("sink.cache").With(zap.String("meeting_id", meetingID)),
	}
}

func (c *Cache) OnSegmentReady(seg model.Segment) {
	ctx, cancel := withTimeout()
	defer cancel()

	if err := c.cache.AddSegment(ctx, c.meetingID, seg); err != nil {
		c.log.Error("Failed to cache segment", zap.String("segment_id", seg.ID), zap.Error(err))
	}
}

func (c *Cache) OnSpeakerDetected(sp model.Speaker) {
	ctx, cancel := withTimeout()
	defer cancel()

	if err := c.cache.SaveSpeaker(ctx, c.meetingID, sp); err != nil {
		c.log.Error("Failed to cache speaker", zap.String("speaker_id", sp.ID), zap.Error(err))
	}
}

func (c *Cache) OnChunkTranscribed(string) {}

func (c *Cache) OnChunkFailed(string, error) {}

func (c *Cache) OnTranscriptionProgress(completed, total int) {
	ctx, cancel := withTimeout()
	defer cancel()

	if err := c.cache.SetProgress(ctx, c.meetingID, cache.Progress{Completed: completed, Total: total}); err != nil {
		c.log.Error("Failed to cache progress", zap.Error(err))
	}
}

func (c *Cache) OnLiveText(text string) {
	ctx, cancel := withTimeout()
	defer cancel()

	if err := c.cache.SetLiveText(ctx, c.meetingID, text); err != nil {
		c.log.Error("Failed to cache live text", zap.Error(err))
	}
}
