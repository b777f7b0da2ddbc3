package health

import "context"

// StorageInterface определяет проверку хранилища настроек
type StorageInterface interface {
	Ping(ctx context.Context) error
}

// ModulesInterface определяет источник счетчиков модулей
type ModulesInterface interface {
	Stats() (active, builtin int)
}

// StatsInterface определяет источник метрик
type StatsInterface interface {
	GetStats() map[string]interface{}
}
