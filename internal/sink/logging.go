package sink

import (
	"voxmeet/internal/meeting"
	"voxmeet/pkg/model"

	"go.uber.org/zap"
)

// Logging writes the transcript to the structured log
type Logging struct {
	log *zap.Logger
}

var _ meeting.Listener = (*Logging)(nil)

func NewLogging(log *zap.Logger) *Logging {
	return &Logging{log: log}
}

func (l *Logging) OnSegmentReady(seg model.Segment) {
	l.log.Info("Segment",
		zap.String("chunk_id", seg.ChunkID),
		zap.String("at", model.FormatTimestamp(seg.StartTime)),
		zap.String("speaker_id", seg.SpeakerID),
		zap.String("text", seg.Text))
}

func (l *Logging) OnSpeakerDetected(sp model.Speaker) {
	l.log.Info("New speaker", zap.String("speaker_id", sp.ID), zap.String("label", sp.Label))
}

func (l *Logging) OnChunkTranscribed(chunkID string) {
	l.log.Debug("Chunk transcribed", zap.String("chunk_id", chunkID))
}

func (l *Logging) OnChunkFailed(chunkID string, err error) {
	l.log.Warn("Chunk failed", zap.String("chunk_id", chunkID), zap.Error(err))
}

func (l *Logging) OnTranscriptionProgress(completed, total int) {
	l.log.Info("Progress", zap.Int("completed", completed), zap.Int("total", total))
}

func (l *Logging) OnLiveText(text string) {
	l.log.Debug("Live text", zap.String("text", text))
}
