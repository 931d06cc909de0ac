package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It discards everything until Init is called.
var Logger = zap.NewNop()

type Options struct {
	// Debug switches to the development encoder and debug level
	Debug bool
	// Level overrides the default level: debug, info, warn or error
	Level string
	// Service is attached to every entry as the "service" field
	Service string
}

// Init builds the global logger for one binary
func Init(opts Options) error {
	config := zap.NewProductionConfig()
	if opts.Debug {
		config = zap.NewDevelopmentConfig()
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}
	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}

	Logger = logger
	return nil
}

// Replace swaps the global logger and returns a func restoring the previous one
func Replace(l *zap.Logger) func() {
	prev := Logger
	Logger = l
	return func() { Logger = prev }
}

// Named returns a child logger tagged with a component name.
// Components keep the logger they got, so call it after Init.
func Named(component string) *zap.Logger {
	return Logger.Named(component)
}

func Debug(msg string, fields ...zap.Field) { Logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { Logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { Logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Logger.Error(msg, fields...) }

// Fatal logs and exits the process
func Fatal(msg string, fields ...zap.Field) { Logger.Fatal(msg, fields...) }

func Sync() error {
	return Logger.Sync()
}
