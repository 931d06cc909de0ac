package sink

import (
	"context"
	"voxmeet/internal/meeting"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"go.uber.org/zap"
)

// SegmentStore is the durable side of a meeting, storage.PostgresStorage in production
type SegmentStore interface {
	SaveSegment(ctx context.Context, meetingID string, seg model.Segment) error
	UpsertSpeaker(ctx context.Context, meetingID string, sp model.Speaker) error
	SaveChunkFailure(ctx context.Context, meetingID, chunkID, errText string) error
}

// Store persists segments, speakers and failed chunks. Speaker statistics are
// refreshed after each segment.
type Store struct {
	meeting.NopListener

	store     SegmentStore
	meetingID string
	lookup    SpeakerLookup
	log       *zap.Logger
}

func NewStore(store SegmentStore, meetingID string, lookup SpeakerLookup) *Store {
	return &Store{
		store:     store,
		meetingID: meetingID,
		lookup:    lookup,
		log:       logger.Named("sink.store").With(zap.String("meeting_id", meetingID)),
	}
}

func (s *Store) OnSegmentReady(seg model.Segment) {
	ctx, cancel := withTimeout()
	defer cancel()

	if err := s.store.SaveSegment(ctx, s.meetingID, seg); err != nil {
		s.log.Error("Failed to save segment", zap.String("segment_id", seg.ID), zap.Error(err))
		return
	}

	if s.lookup == nil || seg.SpeakerID == "" {
		return
	}
	if sp, ok := s.lookup(seg.SpeakerID); ok {
		s.upsert(ctx, sp)
	}
}

func (s *Store) OnSpeakerDetected(sp model.Speaker) {
	ctx, cancel := withTimeout()
	defer cancel()
	s.upsert(ctx, sp)
}

func (s *Store) OnChunkFailed(chunkID string, err error) {
	ctx, cancel := withTimeout()
	defer cancel()

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if err := s.store.SaveChunkFailure(ctx, s.meetingID, chunkID, errText); err != nil {
		s.log.Error("Failed to save chunk failure", zap.String("chunk_id", chunkID), zap.Error(err))
	}
}

func (s *Store) upsert(ctx context.Context, sp model.Speaker) {
	if err := s.store.UpsertSpeaker(ctx, s.meetingID, sp); err != nil {
		s.log.Error("Failed to upsert speaker", zap.String("speaker_id", sp.ID), zap.Error(err))
	}
}
