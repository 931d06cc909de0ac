package transcribe

import (
	"context"
	"fmt"
	"time"
	"voxmeet/internal/speechkit"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Uploader stores chunk audio where the recognizer can fetch it
type Uploader interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

type Recognizer interface {
	StartRecognition(ctx context.Context, s3URI, language string) (string, error)
	WaitForResult(ctx context.Context, operationID string) (*speechkit.RecognitionResult, error)
}

type SpeechKitConfig struct {
	// Prefix of uploaded object keys
	Prefix      string
	ContentType string
	Extension   string
	// KeepAudio leaves uploaded chunks in the bucket after recognition
	KeepAudio bool
}

// SpeechKit runs long-running recognition: upload to Object Storage, start
// the operation, poll for the result.
type SpeechKit struct {
	uploader   Uploader
	recognizer Recognizer
	cfg        SpeechKitConfig
	log        *zap.Logger
}

func NewSpeechKit(uploader Uploader, recognizer Recognizer, cfg SpeechKitConfig) *SpeechKit {
	if cfg.Prefix == "" {
		cfg.Prefix = "chunks"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/ogg"
	}
	if cfg.Extension == "" {
		cfg.Extension = ".ogg"
	}

	return &SpeechKit{
		uploader:   uploader,
		recognizer: recognizer,
		cfg:        cfg,
		log:        logger.Named("speechkit"),
	}
}

func (s *SpeechKit) Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	started := time.Now()
	key := fmt.Sprintf("%s/%s/%s%s", s.cfg.Prefix, started.UTC().Format("2006/01/02"), uuid.New().String(), s.cfg.Extension)

	uri, err := s.uploader.UploadFile(ctx, key, audio, s.cfg.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload chunk: %w", err)
	}
	if !s.cfg.KeepAudio {
		defer func() {
			// the request context may already be gone
			cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.uploader.DeleteFile(cleanup, key); err != nil {
				s.log.Warn("Failed to delete uploaded chunk", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	operationID, err := s.recognizer.StartRecognition(ctx, uri, language)
	if err != nil {
		return nil, fmt.Errorf("failed to start recognition: %w", err)
	}

	recognized, err := s.recognizer.WaitForResult(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("recognition %s failed: %w", operationID, err)
	}

	result := fromRecognition(recognized)
	result.Language = language

	s.log.Debug("Chunk transcribed",
		zap.String("operation_id", operationID),
		zap.Int("sub_segments", len(result.SubSegments)),
		zap.Duration("audio", result.Duration),
		zap.Duration("took", time.Since(started)))

	return result, nil
}

// fromRecognition keeps per-utterance timings only when every utterance has them.
// Duration is the end of the last timed utterance.
func fromRecognition(r *speechkit.RecognitionResult) *model.Result {
	result := &model.Result{Text: r.GetFullText()}

	var subs []model.SubSegment
	timed := true
	for _, chunk := range r.Chunks {
		alt, ok := chunk.Best()
		if !ok {
			continue
		}
		start, end, ok := alt.Span()
		if !ok {
			timed = false
			continue
		}
		result.Duration = max(result.Duration, end)
		subs = append(subs, model.SubSegment{
			Start:      start.Seconds(),
			End:        end.Seconds(),
			Text:       alt.Text,
			Confidence: alt.Confidence,
		})
	}
	if timed {
		result.SubSegments = subs
	}
	return result
}
