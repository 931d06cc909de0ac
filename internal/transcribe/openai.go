package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for a compatible self-hosted server
	BaseURL string
	Model   string
	// FileName tells the API how to sniff the container format
	FileName string
	Prompt   string
}

// OpenAI transcribes through the audio transcription endpoint with verbose
// output, so each result carries per-utterance timings.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.FileName == "" {
		cfg.FileName = "chunk.webm"
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		log:    logger.Named("openai"),
	}
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	started := time.Now()
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.cfg.Model,
		FilePath: o.cfg.FileName,
		Reader:   bytes.NewReader(audio),
		Prompt:   o.cfg.Prompt,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription failed: %w", err)
	}

	result := fromAudioResponse(resp)

	o.log.Debug("Chunk transcribed",
		zap.Int("bytes", len(audio)),
		zap.Int("sub_segments", len(result.SubSegments)),
		zap.Duration("audio", result.Duration),
		zap.Duration("took", time.Since(started)))

	return result, nil
}

func fromAudioResponse(resp openai.AudioResponse) *model.Result {
	result := &model.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: seconds(resp.Duration),
	}

	for _, seg := range resp.Segments {
		result.SubSegments = append(result.SubSegments, model.SubSegment{
			Start:      seg.Start,
			End:        seg.End,
			Text:       strings.TrimSpace(seg.Text),
			Confidence: logprobConfidence(seg.AvgLogprob),
		})
	}
	return result
}

func seconds(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}

// logprobConfidence maps an average token log-probability into (0, 1]
func logprobConfidence(avg float64) float64 {
	if avg >= 0 {
		return 1
	}
	return math.Exp(avg)
}
