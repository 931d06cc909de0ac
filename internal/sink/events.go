package sink

import (
	"context"
	"voxmeet/internal/broker"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"go.uber.org/zap"
)

// Publish delivers one event, e.g. broker.RabbitMQ.PublishEvent or notify.Telegram.HandleEvent
type Publish func(ctx context.Context, ev broker.Event) error

// Events turns callbacks into broker events. Live text is not published.
type Events struct {
	publish   Publish
	meetingID string
	lookup    SpeakerLookup
	log       *zap.Logger
}

func NewEvents(publish Publish, meetingID string, lookup SpeakerLookup) *Events {
	return &Events{
		publish:   publish,
		meetingID: meetingID,
		lookup:    lookup,
		log:       logger.Named("sink.events").With(zap.String("meeting_id", meetingID)),
	}
}

func (e *Events) send(typ broker.EventType, payload any) {
	ev, err := broker.NewEvent(e.meetingID, typ, payload)
	if err != nil {
		e.log.Error("Failed to build event", zap.Error(err))
		return
	}

	ctx, cancel := withTimeout()
	defer cancel()

	if err := e.publish(ctx, ev); err != nil {
		e.log.Error("Failed to publish event", zap.String("type", string(typ)), zap.Error(err))
	}
}

func (e *Events) OnSegmentReady(seg model.Segment) {
	payload := broker.SegmentReady{Segment: seg}
	if e.lookup != nil {
		if sp, ok := e.lookup(seg.SpeakerID); ok {
			payload.Speaker = sp.Label
		}
	}
	e.send(broker.EventSegmentReady, payload)
}

func (e *Events) OnSpeakerDetected(sp model.Speaker) {
	e.send(broker.EventSpeakerDetected, sp)
}

func (e *Events) OnChunkTranscribed(chunkID string) {
	e.send(broker.EventChunkTranscribed, broker.ChunkTranscribed{ChunkID: chunkID})
}

func (e *Events) OnChunkFailed(chunkID string, err error) {
	failure := broker.ChunkFailure{ChunkID: chunkID}
	if err != nil {
		failure.Error = err.Error()
	}
	e.send(broker.EventChunkFailed, failure)
}

func (e *Events) OnTranscriptionProgress(completed, total int) {
	e.send(broker.EventProgress, broker.Progress{Completed: completed, Total: total})
}

func (e *Events) OnLiveText(string) {}
