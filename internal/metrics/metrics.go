// Package metrics реализует систему метрик среды модулей.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics представляет систему метрик
type Metrics struct {
	mu sync.RWMutex

	// Пользовательская активность
	totalCommands int64
	uniqueUsers   map[int64]struct{}
	byModule      map[string]int64

	// Модули
	modulesLoaded  int64
	moduleFailures int64
	installs       int64
	installErrors  int64
	lastReload     time.Time

	// Производительность
	avgResponseTime time.Duration
	totalRequests   int64
	errorCount      int64
	rateLimited     int64

	uptime time.Time

	logger *zap.Logger
}

var _ Interface = (*Metrics)(nil)

// NewMetrics создает новую систему метрик
func NewMetrics(logger *zap.Logger) *Metrics {
	return &Metrics{
		uniqueUsers: make(map[int64]struct{}),
		byModule:    make(map[string]int64),
		uptime:      time.Now(),
		logger:      logger,
	}
}

// RecordCommand записывает выполнение команды
func (m *Metrics) RecordCommand(command, moduleName string, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCommands++
	m.uniqueUsers[userID] = struct{}{}
	m.byModule[moduleName]++
}

// RecordResponseTime записывает время ответа
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	// Простое скользящее среднее
	if m.avgResponseTime == 0 {
		m.avgResponseTime = duration
	} else {
		m.avgResponseTime = (m.avgResponseTime + duration) / 2
	}
}

// RecordError записывает ошибку
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCount++
}

// RecordRateLimited записывает отклоненный запрос
func (m *Metrics) RecordRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rateLimited++
}

// RecordModuleLoad записывает результат загрузки модуля
func (m *Metrics) RecordModuleLoad(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok {
		m.modulesLoaded++
	} else {
		m.moduleFailures++
	}
}

// RecordInstall записывает результат установки
func (m *Metrics) RecordInstall(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.installs++
	if !ok {
		m.installErrors++
	}
}

// SetLastReload устанавливает время последней перезагрузки
func (m *Metrics) SetLastReload(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastReload = at
}

// GetStats возвращает все метрики в виде map
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perModule := make(map[string]int64, len(m.byModule))
	for k, v := range m.byModule {
		perModule[k] = v
	}

	return map[string]interface{}{
		"user_activity": map[string]interface{}{
			"total_commands": m.totalCommands,
			"unique_users":   len(m.uniqueUsers),
			"by_module":      perModule,
		},
		"modules": map[string]interface{}{
			"loaded":         m.modulesLoaded,
			"load_failures":  m.moduleFailures,
			"installs":       m.installs,
			"install_errors": m.installErrors,
			"last_reload":    m.formatTime(m.lastReload),
		},
		"performance": map[string]interface{}{
			"avg_response_time": m.formatDuration(m.avgResponseTime),
			"total_requests":    m.totalRequests,
			"error_count":       m.errorCount,
			"error_rate":        m.calculateErrorRate(),
			"rate_limited":      m.rateLimited,
		},
		"system": map[string]interface{}{
			"uptime": m.formatDuration(time.Since(m.uptime)),
		},
	}
}

// calculateErrorRate вычисляет процент ошибок
func (m *Metrics) calculateErrorRate() float64 {
	if m.totalRequests > 0 {
		return float64(m.errorCount) / float64(m.totalRequests) * 100
	}
	return 0
}

// formatTime форматирует время или возвращает "Не установлено"
func (m *Metrics) formatTime(t time.Time) string {
	if t.IsZero() {
		return "Не установлено"
	}
	return t.Format("02.01.06 15:04")
}

// formatDuration форматирует duration с двумя знаками после запятой
func (m *Metrics) formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
