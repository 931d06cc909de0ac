package config

import (
	"fmt"
	"time"
	"voxmeet/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const DefaultPath = "configs/config.yaml"

// Backends selectable in Transcriber.Backend
const (
	BackendOpenAI    = "openai"
	BackendSpeechKit = "speechkit"
)

type Config struct {
	Log struct {
		Debug bool   `yaml:"debug" env:"LOG_DEBUG" env-default:"false"`
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`

	Meeting struct {
		ID            string        `yaml:"id" env:"MEETING_ID"`
		Language      string        `yaml:"language" env:"MEETING_LANGUAGE"`
		ChunkDuration time.Duration `yaml:"chunk_duration" env:"MEETING_CHUNK_DURATION" env-default:"5s"`
		InputDir      string        `yaml:"input_dir" env:"MEETING_INPUT_DIR" env-default:"chunks"`
		DrainTimeout  time.Duration `yaml:"drain_timeout" env:"MEETING_DRAIN_TIMEOUT" env-default:"2m"`
	} `yaml:"meeting"`

	Queue struct {
		MaxConcurrent        int           `yaml:"max_concurrent" env:"QUEUE_MAX_CONCURRENT" env-default:"3"`
		RequestsPerMinute    int           `yaml:"requests_per_minute" env:"QUEUE_REQUESTS_PER_MINUTE" env-default:"50"`
		RetryDelay           time.Duration `yaml:"retry_delay" env:"QUEUE_RETRY_DELAY" env-default:"2s"`
		MaxRetries           int           `yaml:"max_retries" env:"QUEUE_MAX_RETRIES" env-default:"3"`
		RetryPriorityPenalty int           `yaml:"retry_priority_penalty" env:"QUEUE_RETRY_PRIORITY_PENALTY" env-default:"1"`
	} `yaml:"queue"`

	Transcriber struct {
		Backend string `yaml:"backend" env:"TRANSCRIBER_BACKEND" env-default:"openai"`
	} `yaml:"transcriber"`

	OpenAI struct {
		APIKey   string `yaml:"api_key" env:"OPENAI_API_KEY"`
		BaseURL  string `yaml:"base_url" env:"OPENAI_BASE_URL"`
		Model    string `yaml:"model" env:"OPENAI_MODEL" env-default:"whisper-1"`
		FileName string `yaml:"file_name" env:"OPENAI_FILE_NAME" env-default:"chunk.webm"`
	} `yaml:"openai"`

	SpeechKit struct {
		FolderID      string        `yaml:"folder_id" env:"YANDEX_FOLDER_ID"`
		APIKey        string        `yaml:"api_key" env:"YANDEX_API_KEY"`
		Model         string        `yaml:"model" env:"SPEECHKIT_MODEL" env-default:"general"`
		AudioEncoding string        `yaml:"audio_encoding" env:"SPEECHKIT_AUDIO_ENCODING" env-default:"OGG_OPUS"`
		PollInterval  time.Duration `yaml:"poll_interval" env:"SPEECHKIT_POLL_INTERVAL" env-default:"2s"`
		KeepAudio     bool          `yaml:"keep_audio" env:"SPEECHKIT_KEEP_AUDIO" env-default:"false"`
	} `yaml:"speechkit"`

	Breaker struct {
		MaxFailures uint32        `yaml:"max_failures" env:"BREAKER_MAX_FAILURES" env-default:"5"`
		Timeout     time.Duration `yaml:"timeout" env:"BREAKER_TIMEOUT" env-default:"30s"`
	} `yaml:"breaker"`

	S3 struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"https://storage.yandexcloud.net"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"ru-central1"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	} `yaml:"s3"`

	Postgres struct {
		DSN        string `yaml:"dsn" env:"POSTGRES_DSN"`
		Migrations string `yaml:"migrations" env:"POSTGRES_MIGRATIONS" env-default:"migrations"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
		TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"24h"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL   string `yaml:"url" env:"RABBITMQ_URL"`
		Queue string `yaml:"queue" env:"RABBITMQ_QUEUE" env-default:"meeting_notifications"`
	} `yaml:"rabbitmq"`

	Telegram struct {
		Token   string  `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
		ChatIDs []int64 `yaml:"chat_ids" env:"TELEGRAM_CHAT_IDS" env-separator:","`
	} `yaml:"telegram"`

	Sink struct {
		Buffer int `yaml:"buffer" env:"SINK_BUFFER" env-default:"256"`
	} `yaml:"sink"`
}

// LoadConfig reads path (DefaultPath when empty) overlaid by the environment and .env
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	logger.Info("Config loaded successfully")
	return &cfg, nil
}

// Validate checks what the transcriber needs to run
func (c *Config) Validate() error {
	switch c.Transcriber.Backend {
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai backend requires OPENAI_API_KEY")
		}
	case BackendSpeechKit:
		if c.SpeechKit.APIKey == "" || c.SpeechKit.FolderID == "" {
			return fmt.Errorf("speechkit backend requires YANDEX_API_KEY and YANDEX_FOLDER_ID")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("speechkit backend requires S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown transcriber backend %q", c.Transcriber.Backend)
	}

	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries cannot be negative")
	}
	if c.Meeting.ChunkDuration <= 0 {
		return fmt.Errorf("meeting.chunk_duration must be positive")
	}
	return nil
}

// Help lists every supported environment variable
func Help() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}
