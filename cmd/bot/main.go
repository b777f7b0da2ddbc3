// Package main запускает бота с Lua-модулями.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"kubot/internal/app"
	"kubot/internal/config"
	"kubot/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Инициализация логгера
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Path: cfg.LogPath})
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Создание бота через фабрику
	bot, err := app.NewBotWithFactory(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create bot", zap.Error(err))
	}

	runErr := bot.Start(ctx)
	if ctx.Err() != nil {
		log.Info("Shutdown signal received")
	}
	if err := bot.Stop(); err != nil {
		log.Error("Failed to stop bot", zap.Error(err))
	}
	if runErr != nil {
		log.Error("Bot stopped with error", zap.Error(runErr))
		os.Exit(1)
	}

	log.Info("Bot stopped successfully")
}
