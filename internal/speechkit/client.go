package speechkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/resilience"

	"go.uber.org/zap"
)

const (
	RecognizeURL  = "https://transcribe.api.cloud.yandex.net/speech/stt/v2/longRunningRecognize"
	OperationURL  = "https://operation.api.cloud.yandex.net/operations"
	OperationPoll = 2 * time.Second
	MaxWaitTime   = 10 * time.Minute
)

var ErrRecognitionTimeout = errors.New("recognition timeout exceeded")

type Config struct {
	APIKey        string
	FolderID      string
	Model         string
	AudioEncoding string
	SampleRate    int
	RecognizeURL  string
	OperationURL  string
	PollInterval  time.Duration
	MaxWait       time.Duration
	HTTPTimeout   time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

// New Yandex SpeechKit client
func NewClient(cfg Config) *Client {
	if cfg.RecognizeURL == "" {
		cfg.RecognizeURL = RecognizeURL
	}
	if cfg.OperationURL == "" {
		cfg.OperationURL = OperationURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = OperationPoll
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = MaxWaitTime
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "general"
	}
	if cfg.AudioEncoding == "" {
		cfg.AudioEncoding = "OGG_OPUS"
	}

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		log: logger.Named("speechkit"),
	}
}

// Async voice recognition of an object already uploaded to Object Storage
func (c *Client) StartRecognition(ctx context.Context, s3URI, language string) (string, error) {
	spec := Specification{
		LanguageCode:   languageCode(language),
		Model:          c.cfg.Model,
		AudioEncoding:  c.cfg.AudioEncoding,
		LiteratureText: true,
	}
	// sample rate is only meaningful for raw PCM
	if c.cfg.AudioEncoding == "LINEAR16_PCM" {
		spec.SampleRateHertz = c.cfg.SampleRate
		spec.AudioChannelCount = 1
	}

	body, err := json.Marshal(RecognitionRequest{
		Config: RecognitionConfig{Specification: spec},
		Audio:  AudioSource{URI: s3URI},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RecognizeURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-folder-id", c.cfg.FolderID)

	c.log.Debug("Starting speech recognition", zap.String("s3_uri", s3URI))

	var opResp OperationResponse
	if err := c.do(req, &opResp); err != nil {
		return "", fmt.Errorf("recognition request failed: %w", err)
	}
	if opResp.ID == "" {
		return "", fmt.Errorf("recognition request returned no operation id")
	}

	c.log.Info("Recognition started", zap.String("operation_id", opResp.ID))

	return opResp.ID, nil
}

// Polling operation status and returns result
func (c *Client) WaitForResult(ctx context.Context, operationID string) (*RecognitionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	url := fmt.Sprintf("%s/%s", c.cfg.OperationURL, operationID)
	startTime := time.Now()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.authorize(req)

		var opResp OperationResponse
		if err := c.do(req, &opResp); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrRecognitionTimeout
			}
			return nil, fmt.Errorf("operation check failed: %w", err)
		}

		if opResp.Done {
			if opResp.Error != nil {
				return nil, fmt.Errorf("recognition failed: %s (code: %d)", opResp.Error.Message, opResp.Error.Code)
			}

			result := opResp.Response
			if result == nil {
				result = &RecognitionResult{}
			}

			c.log.Info("Recognition completed",
				zap.String("operation_id", operationID),
				zap.Int("chunks", len(result.Chunks)))

			return result, nil
		}

		c.log.Debug("Recognition in progress",
			zap.String("operation_id", operationID),
			zap.Duration("elapsed", time.Since(startTime)))

		if err := resilience.Sleep(ctx, c.cfg.PollInterval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrRecognitionTimeout
			}
			return nil, err
		}
	}
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Api-Key %s", c.cfg.APIKey))
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// languageCode maps short codes to SpeechKit locales; empty means auto
func languageCode(lang string) string {
	switch lang {
	case "":
		return "auto"
	case "ru":
		return "ru-RU"
	case "en":
		return "en-US"
	case "de":
		return "de-DE"
	case "uk":
		return "uk-UA"
	case "kk":
		return "kk-KZ"
	default:
		return lang
	}
}
