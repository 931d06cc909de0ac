package notify

import (
	"fmt"
	"voxmeet/internal/broker"
	"voxmeet/pkg/model"
)

// Render turns an event into a chat message. ok is false for events that
// are not worth a message.
func Render(ev broker.Event) (text string, ok bool, err error) {
	switch ev.Type {
	case broker.EventSegmentReady:
		var p broker.SegmentReady
		if err := ev.Decode(&p); err != nil {
			return "", false, err
		}
		speaker := p.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		return fmt.Sprintf("[%s] %s: %s", model.FormatTimestamp(p.Segment.StartTime), speaker, p.Segment.Text), true, nil

	case broker.EventSpeakerDetected:
		var sp model.Speaker
		if err := ev.Decode(&sp); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("New speaker: %s", sp.Label), true, nil

	case broker.EventChunkFailed:
		var p broker.ChunkFailure
		if err := ev.Decode(&p); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("Chunk %s could not be transcribed: %s", p.ChunkID, p.Error), true, nil

	case broker.EventProgress:
		var p broker.Progress
		if err := ev.Decode(&p); err != nil {
			return "", false, err
		}
		if p.Total == 0 || p.Completed < p.Total {
			return "", false, nil
		}
		return fmt.Sprintf("Transcription complete: %d/%d chunks", p.Completed, p.Total), true, nil
	}

	return "", false, nil
}
