package config

import (
	"go.uber.org/zap"
)

// ConfigLoader выбирает значения с приоритетом: окружение > документ настроек
type ConfigLoader struct {
	document DocumentSource
	logger   *zap.Logger
}

// DocumentSource определяет чтение полей из персистентного документа настроек
type DocumentSource interface {
	BotToken() string
	OwnerID() int64
}

// NewConfigLoader создает новый загрузчик конфигурации
func NewConfigLoader(document DocumentSource, logger *zap.Logger) *ConfigLoader {
	return &ConfigLoader{
		document: document,
		logger:   logger,
	}
}

// BotToken возвращает токен из окружения или из документа настроек
func (cl *ConfigLoader) BotToken(envValue string) string {
	if envValue != "" {
		cl.logger.Info("Using bot token from environment variables")
		return envValue
	}
	if stored := cl.document.BotToken(); stored != "" {
		cl.logger.Info("Loaded bot token from settings document")
		return stored
	}
	cl.logger.Debug("Bot token is not configured")
	return ""
}

// OwnerID возвращает ID владельца из окружения или из документа настроек
func (cl *ConfigLoader) OwnerID(envValue int64) int64 {
	if envValue != 0 {
		return envValue
	}
	if stored := cl.document.OwnerID(); stored != 0 {
		cl.logger.Info("Loaded owner id from settings document", zap.Int64("owner_id", stored))
		return stored
	}
	return 0
}
