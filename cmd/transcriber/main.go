package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"voxmeet/internal/broker"
	"voxmeet/internal/chunks"
	"voxmeet/internal/config"
	"voxmeet/internal/meeting"
	"voxmeet/internal/queue"
	"voxmeet/internal/sink"
	"voxmeet/internal/speechkit"
	"voxmeet/internal/storage"
	"voxmeet/internal/transcribe"
	"voxmeet/pkg/cache"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"
	"voxmeet/pkg/resilience"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config")
	inputDir := flag.String("input", "", "Directory with audio chunks (overrides meeting.input_dir)")
	resetDB := flag.Bool("reset-db", false, "Reset database by dropping all tables and re-running migrations")
	help := flag.Bool("env-help", false, "Print supported environment variables and exit")
	flag.Parse()

	if *help {
		text, err := config.Help()
		if err != nil {
			panic(err)
		}
		fmt.Println(text)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("Invalid config: " + err.Error())
	}

	if err := logger.Init(logger.Options{Debug: cfg.Log.Debug, Level: cfg.Log.Level, Service: "transcriber"}); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting voxmeet transcriber")

	if *resetDB {
		if cfg.Postgres.DSN == "" {
			logger.Fatal("POSTGRES_DSN is required to reset the database")
		}
		if err := storage.ResetMigrations(cfg.Postgres.DSN, cfg.Postgres.Migrations); err != nil {
			logger.Fatal("Failed to reset database", zap.Error(err))
		}
		logger.Info("Database reset completed successfully")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *inputDir != "" {
		cfg.Meeting.InputDir = *inputDir
	}
	input, err := chunks.LoadDir(cfg.Meeting.InputDir, cfg.Meeting.ChunkDuration)
	if err != nil {
		logger.Fatal("Failed to load chunks", zap.Error(err))
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create transcription backend", zap.Error(err))
	}
	backend = transcribe.NewBreaker(backend, resilience.NewCircuitBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	registry := meeting.NewRegistry()
	meetingID := cfg.Meeting.ID
	if meetingID == "" {
		meetingID = uuid.New().String()
	}

	collected := &transcript{}
	listeners, closeSinks := newSinks(ctx, cfg, meetingID, registry, collected)
	defer closeSinks()

	svc := meeting.NewService(backend, listeners, meeting.Options{
		MeetingID: meetingID,
		Queue:     queueOptions(cfg),
		Registry:  registry,
	})
	defer svc.Close()

	logger.Info("Meeting started",
		zap.String("meeting_id", svc.ID()),
		zap.Int("chunks", len(input)))

	for _, chunk := range input {
		if err := svc.ProcessChunk(chunk); err != nil {
			logger.Warn("Chunk not submitted", zap.String("chunk_id", chunk.ID), zap.Error(err))
		}
	}

	done := make(chan bool, 1)
	go func() { done <- svc.WaitForCompletion(cfg.Meeting.DrainTimeout) }()

	select {
	case complete := <-done:
		status := svc.Status()
		logger.Info("Meeting drained",
			zap.Bool("complete", complete),
			zap.Int("completed", status.Completed),
			zap.Int("failed", status.Failed),
			zap.Int("total", status.Total))
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	collected.print(registry)
}

func queueOptions(cfg *config.Config) queue.Options {
	opts := queue.DefaultOptions()
	opts.MaxConcurrent = cfg.Queue.MaxConcurrent
	opts.RequestsPerMinute = cfg.Queue.RequestsPerMinute
	opts.RetryDelay = cfg.Queue.RetryDelay
	opts.MaxRetries = cfg.Queue.MaxRetries
	opts.RetryPriorityPenalty = cfg.Queue.RetryPriorityPenalty
	opts.Language = cfg.Meeting.Language
	return opts
}

func newBackend(ctx context.Context, cfg *config.Config) (transcribe.Backend, error) {
	switch cfg.Transcriber.Backend {
	case config.BackendSpeechKit:
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
		})
		if err != nil {
			return nil, err
		}
		client := speechkit.NewClient(speechkit.Config{
			APIKey:        cfg.SpeechKit.APIKey,
			FolderID:      cfg.SpeechKit.FolderID,
			Model:         cfg.SpeechKit.Model,
			AudioEncoding: cfg.SpeechKit.AudioEncoding,
			PollInterval:  cfg.SpeechKit.PollInterval,
		})
		return transcribe.NewSpeechKit(s3, client, transcribe.SpeechKitConfig{KeepAudio: cfg.SpeechKit.KeepAudio}), nil
	default:
		return transcribe.NewOpenAI(transcribe.OpenAIConfig{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			FileName: cfg.OpenAI.FileName,
		}), nil
	}
}

// transcript collects segments for the final printout
type transcript struct {
	meeting.NopListener

	mu       sync.Mutex
	segments []model.Segment
}

func (t *transcript) OnSegmentReady(seg model.Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, seg)
}

func (t *transcript) print(registry *meeting.Registry) {
	t.mu.Lock()
	segments := append([]model.Segment(nil), t.segments...)
	t.mu.Unlock()

	speakers := make(map[string]model.Speaker)
	for _, sp := range registry.Speakers() {
		speakers[sp.ID] = sp
	}
	fmt.Fprint(os.Stdout, model.FormatTranscript(segments, speakers))
}

// newSinks wires every configured output. A missing address disables the sink.
func newSinks(ctx context.Context, cfg *config.Config, meetingID string, registry *meeting.Registry, t *transcript) (sink.Fanout, func()) {
	var (
		closers []func()
		fanout  = sink.Fanout{sink.NewLogging(logger.Named("transcript"))}
		lookup  = sink.SpeakerLookup(registry.Get)
	)

	if cfg.Postgres.DSN != "" {
		db, err := storage.NewPostgresStorage(ctx, cfg.Postgres.DSN, cfg.Postgres.Migrations)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		async := sink.NewAsync(sink.NewStore(db, meetingID, lookup), cfg.Sink.Buffer)
		fanout = append(fanout, async)
		closers = append(closers, async.Close, db.Close)
		logger.Info("Postgres sink enabled")
	}

	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		async := sink.NewAsync(sink.NewCache(redisCache, meetingID), cfg.Sink.Buffer)
		fanout = append(fanout, async)
		closers = append(closers, async.Close, func() { redisCache.Close() })
		logger.Info("Redis sink enabled")
	}

	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := broker.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		async := sink.NewAsync(sink.NewEvents(rabbitMQ.PublishEvent, meetingID, lookup), cfg.Sink.Buffer)
		fanout = append(fanout, async)
		closers = append(closers, async.Close, func() { rabbitMQ.Close() })
		logger.Info("RabbitMQ sink enabled")
	}

	fanout = append(fanout, t)

	closeAll := func() {
		// sinks first, then their connections
		for _, c := range closers {
			c()
		}
	}
	return fanout, closeAll
}
