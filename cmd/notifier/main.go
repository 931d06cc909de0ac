package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"voxmeet/internal/broker"
	"voxmeet/internal/config"
	"voxmeet/internal/notify"
	"voxmeet/pkg/cache"
	"voxmeet/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// notifier relays meeting events from RabbitMQ into Telegram chats
func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	if err := logger.Init(logger.Options{Debug: cfg.Log.Debug, Level: cfg.Log.Level, Service: "notifier"}); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting voxmeet notifier")

	if cfg.RabbitMQ.URL == "" {
		logger.Fatal("RABBITMQ_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var chatState cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisCache.Close()
		chatState = redisCache
	}

	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatIDs, chatState)
	if err != nil {
		logger.Fatal("Failed to initialize bot", zap.Error(err))
	}

	rabbitMQ, err := broker.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitMQ.Close()

	if err := rabbitMQ.Subscribe(cfg.RabbitMQ.Queue, broker.BindAll); err != nil {
		logger.Fatal("Failed to subscribe", zap.Error(err))
	}

	go tg.Start()

	if err := rabbitMQ.Consume(ctx, cfg.RabbitMQ.Queue, tg.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Failed to consume events", zap.Error(err))
	}

	tg.Stop()
	logger.Info("Notifier shutdown complete")
}
