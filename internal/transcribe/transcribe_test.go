package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"voxmeet/internal/queue"
	"voxmeet/internal/speechkit"
	"voxmeet/pkg/model"
	"voxmeet/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const verboseResponse = `{
  "task": "transcribe",
  "language": "english",
  "duration": 4.8,
  "text": " Hello team. Let's start.",
  "segments": [
    {"id": 0, "seek": 0, "start": 0.0, "end": 1.4, "text": " Hello team.", "avg_logprob": -0.2, "no_speech_prob": 0.01},
    {"id": 1, "seek": 0, "start": 1.6, "end": 3.9, "text": " Let's start.", "avg_logprob": 0.0, "no_speech_prob": 0.02}
  ]
}`

func TestOpenAI_Transcribe(t *testing.T) {
	var (
		mu     sync.Mutex
		fields = map[string]string{}
		audio  []byte
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		assert.NoError(t, r.ParseMultipartForm(1<<20))
		mu.Lock()
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		file, _, err := r.FormFile("file")
		if assert.NoError(t, err) {
			audio, _ = io.ReadAll(file)
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(verboseResponse))
	}))
	defer server.Close()

	backend := NewOpenAI(OpenAIConfig{APIKey: "key", BaseURL: server.URL + "/v1"})

	result, err := backend.Transcribe(context.Background(), []byte("webm-bytes"), "en")
	require.NoError(t, err)

	assert.Equal(t, "Hello team. Let's start.", result.Text)
	assert.Equal(t, "english", result.Language)
	assert.Equal(t, 4800*time.Millisecond, result.Duration)
	require.Len(t, result.SubSegments, 2)
	assert.Equal(t, 1.4, result.SubSegments[0].End)
	assert.Equal(t, "Hello team.", result.SubSegments[0].Text)
	assert.InDelta(t, 0.8187, result.SubSegments[0].Confidence, 0.001)
	assert.Equal(t, 1.0, result.SubSegments[1].Confidence)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "whisper-1", fields["model"])
	assert.Equal(t, "en", fields["language"])
	assert.Equal(t, "verbose_json", fields["response_format"])
	assert.Equal(t, []byte("webm-bytes"), audio)
}

func TestOpenAI_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
	}))
	defer server.Close()

	backend := NewOpenAI(OpenAIConfig{APIKey: "key", BaseURL: server.URL + "/v1"})

	_, err := backend.Transcribe(context.Background(), []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestOpenAI_EmptyAudio(t *testing.T) {
	backend := NewOpenAI(OpenAIConfig{APIKey: "key"})

	_, err := backend.Transcribe(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockUploader) DeleteFile(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockRecognizer struct {
	mock.Mock
}

func (m *MockRecognizer) StartRecognition(ctx context.Context, s3URI, language string) (string, error) {
	args := m.Called(ctx, s3URI, language)
	return args.String(0), args.Error(1)
}

func (m *MockRecognizer) WaitForResult(ctx context.Context, operationID string) (*speechkit.RecognitionResult, error) {
	args := m.Called(ctx, operationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*speechkit.RecognitionResult), args.Error(1)
}

func timedChunk(text, start, end string) speechkit.Chunk {
	return speechkit.Chunk{Alternatives: []speechkit.Alternative{{
		Text:       text,
		Confidence: 0.9,
		Words: []speechkit.Word{
			{StartTime: start, EndTime: start, Word: "w"},
			{StartTime: end, EndTime: end, Word: "w"},
		},
	}}}
}

func TestSpeechKit_Transcribe(t *testing.T) {
	uploader := new(MockUploader)
	recognizer := new(MockRecognizer)
	backend := NewSpeechKit(uploader, recognizer, SpeechKitConfig{Prefix: "meet"})

	uploader.On("UploadFile", mock.Anything, mock.MatchedBy(func(key string) bool {
		return len(key) > len("meet/") && key[:5] == "meet/"
	}), []byte("ogg"), "audio/ogg").Return("https://storage/bucket/key.ogg", nil)
	uploader.On("DeleteFile", mock.Anything, mock.AnythingOfType("string")).Return(nil)
	recognizer.On("StartRecognition", mock.Anything, "https://storage/bucket/key.ogg", "ru").Return("op-1", nil)
	recognizer.On("WaitForResult", mock.Anything, "op-1").Return(&speechkit.RecognitionResult{
		Chunks: []speechkit.Chunk{
			timedChunk("добрый день", "0.100s", "1.200s"),
			timedChunk("начинаем", "1.500s", "2s"),
		},
	}, nil)

	result, err := backend.Transcribe(context.Background(), []byte("ogg"), "ru")
	require.NoError(t, err)

	assert.Equal(t, "добрый день начинаем", result.Text)
	assert.Equal(t, "ru", result.Language)
	assert.Equal(t, 2*time.Second, result.Duration)
	require.Len(t, result.SubSegments, 2)
	assert.Equal(t, model.SubSegment{Start: 0.1, End: 1.2, Text: "добрый день", Confidence: 0.9}, result.SubSegments[0])
	assert.Equal(t, 2.0, result.SubSegments[1].End)

	uploader.AssertExpectations(t)
	recognizer.AssertExpectations(t)
}

func TestSpeechKit_UntimedUtteranceDropsSubSegments(t *testing.T) {
	result := fromRecognition(&speechkit.RecognitionResult{
		Chunks: []speechkit.Chunk{
			timedChunk("one", "0s", "1s"),
			{Alternatives: []speechkit.Alternative{{Text: "two"}}},
		},
	})

	assert.Equal(t, "one two", result.Text)
	assert.Empty(t, result.SubSegments)
	assert.Equal(t, time.Second, result.Duration)
}

func TestSpeechKit_RecognitionFailureStillCleansUp(t *testing.T) {
	uploader := new(MockUploader)
	recognizer := new(MockRecognizer)
	backend := NewSpeechKit(uploader, recognizer, SpeechKitConfig{})

	uploader.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("uri", nil)
	uploader.On("DeleteFile", mock.Anything, mock.Anything).Return(nil).Once()
	recognizer.On("StartRecognition", mock.Anything, "uri", "").Return("", errors.New("quota"))

	_, err := backend.Transcribe(context.Background(), []byte("ogg"), "")
	assert.ErrorContains(t, err, "quota")
	uploader.AssertExpectations(t)
}

func TestSpeechKit_KeepAudio(t *testing.T) {
	uploader := new(MockUploader)
	recognizer := new(MockRecognizer)
	backend := NewSpeechKit(uploader, recognizer, SpeechKitConfig{KeepAudio: true})

	uploader.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("uri", nil)
	recognizer.On("StartRecognition", mock.Anything, "uri", "en").Return("op", nil)
	recognizer.On("WaitForResult", mock.Anything, "op").Return(&speechkit.RecognitionResult{}, nil)

	result, err := backend.Transcribe(context.Background(), []byte("ogg"), "en")
	require.NoError(t, err)
	assert.Empty(t, result.Text)
	uploader.AssertNotCalled(t, "DeleteFile", mock.Anything, mock.Anything)
}

type flakyBackend struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *flakyBackend) Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.Result{Text: "ok"}, nil
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	next := &flakyBackend{err: errors.New("503")}
	b := NewBreaker(next, resilience.NewCircuitBreaker(2, 20*time.Millisecond))
	ctx := context.Background()

	_, err := b.Transcribe(ctx, []byte("a"), "")
	assert.EqualError(t, err, "503")
	_, err = b.Transcribe(ctx, []byte("a"), "")
	assert.EqualError(t, err, "503")

	_, err = b.Transcribe(ctx, []byte("a"), "")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, next.calls)

	next.mu.Lock()
	next.err = nil
	next.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	result, err := b.Transcribe(ctx, []byte("a"), "")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
}

// failFirst errors on its first n calls overall, then succeeds
type failFirst struct {
	mu    sync.Mutex
	n     int
	calls int
}

func (f *failFirst) Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.n {
		return nil, errors.New("502 bad gateway")
	}
	return &model.Result{Text: string(audio)}, nil
}

func TestBreaker_OpenCircuitKeepsChunksInQueue(t *testing.T) {
	next := &failFirst{n: 5}
	backend := NewBreaker(next, resilience.NewCircuitBreaker(5, 300*time.Millisecond))

	opts := queue.DefaultOptions()
	opts.RequestsPerMinute = 1000
	opts.MaxRetries = 3
	opts.RetryDelay = 20 * time.Millisecond
	opts.PollInterval = 5 * time.Millisecond
	q := queue.New(backend, opts)

	var (
		mu                          sync.Mutex
		completed, failed, deferred int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range q.Events() {
			mu.Lock()
			switch ev.Type {
			case queue.EventCompleted:
				completed++
			case queue.EventFailed:
				failed++
			case queue.EventDeferred:
				deferred++
			}
			mu.Unlock()
		}
	}()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("c%d", i)
		_, err := q.Enqueue(q.NewTask(id, []byte(id), i))
		require.NoError(t, err)
	}

	require.True(t, q.WaitForCompletion(5*time.Second))
	q.Close()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, completed)
	assert.Zero(t, failed)
	assert.Positive(t, deferred)

	next.mu.Lock()
	defer next.mu.Unlock()
	// five provider failures plus one success per chunk; refused calls never reach it
	assert.Equal(t, 15, next.calls)
}
