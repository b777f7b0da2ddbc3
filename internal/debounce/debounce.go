// Package debounce отсекает повторные нажатия одной и той же кнопки.
package debounce

import (
	"sync"
	"time"
)

// DefaultTimeout окно, в котором повторное нажатие игнорируется
const DefaultTimeout = time.Second

// Debouncer запоминает время последнего запроса по ключу
type Debouncer struct {
	lastRequest map[string]time.Time
	timeout     time.Duration
	now         func() time.Time
	mu          sync.Mutex
}

// DebouncerInterface решает, обрабатывать ли запрос с данным ключом
type DebouncerInterface interface {
	CanProcessRequest(key string) bool
}

// Убеждаемся, что Debouncer реализует DebouncerInterface
var _ DebouncerInterface = (*Debouncer)(nil)

// NewDebouncer создает Debouncer; timeout <= 0 означает DefaultTimeout
func NewDebouncer(timeout time.Duration) *Debouncer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Debouncer{
		lastRequest: make(map[string]time.Time),
		timeout:     timeout,
		now:         time.Now,
	}
}

// CanProcessRequest проверяет, прошло ли окно с прошлого запроса по ключу
func (d *Debouncer) CanProcessRequest(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, exists := d.lastRequest[key]; exists && now.Sub(last) < d.timeout {
		return false
	}
	d.lastRequest[key] = now
	return true
}

// Cleanup удаляет ключи старше окна
func (d *Debouncer) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	now := d.now()
	for key, last := range d.lastRequest {
		if now.Sub(last) >= d.timeout {
			delete(d.lastRequest, key)
			removed++
		}
	}
	return removed
}
