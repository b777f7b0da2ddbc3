package metrics

import "time"

// Interface определяет интерфейс для системы метрик
type Interface interface {
	// RecordCommand записывает выполнение команды
	RecordCommand(command, moduleName string, userID int64)

	// RecordResponseTime записывает время выполнения команды
	RecordResponseTime(duration time.Duration)

	// RecordError записывает ошибку обработчика
	RecordError()

	// RecordRateLimited записывает отклоненный по лимиту запрос
	RecordRateLimited()

	// RecordModuleLoad записывает результат загрузки модуля
	RecordModuleLoad(ok bool)

	// RecordInstall записывает результат установки модуля
	RecordInstall(ok bool)

	// SetLastReload устанавливает время последней перезагрузки модулей
	SetLastReload(at time.Time)

	// GetStats возвращает все метрики в виде map
	GetStats() map[string]interface{}
}
