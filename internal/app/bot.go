package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"kubot/internal/config"
	"kubot/internal/debounce"
	"kubot/internal/dispatcher"
	"kubot/internal/health"
	"kubot/internal/jobs"
	"kubot/internal/loader"
	"kubot/internal/metrics"
	"kubot/internal/module"
	"kubot/internal/panel"
	"kubot/internal/registry"
	"kubot/internal/settings"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

const (
	cleanupInterval    = 5 * time.Minute
	maxRestartAttempts = 10
	restartDelay       = 10 * time.Second
	maxRestartDelay    = 5 * time.Minute
	shutdownTimeout    = 30 * time.Second
)

// Bot связывает транспорт, общий цикл и среду модулей
type Bot struct {
	config *config.Config
	logger *zap.Logger

	store       *settings.Store
	transport   module.InteractiveTransport
	runner      func(ctx context.Context) error
	loop        *worker.Pool
	jobs        *jobs.Scheduler
	metrics     *metrics.Metrics
	registry    *registry.Registry
	loader      *loader.Loader
	dispatcher  *dispatcher.Dispatcher
	rateLimiter *dispatcher.RateLimiter
	panel       *panel.Panel
	debouncer   *debounce.Debouncer
	health      *health.Server

	lifecycle sync.Mutex
	started   atomic.Bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBot создает новый экземпляр бота
func NewBot(cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// NewBotWithFactory создает бота со всеми зависимостями
func NewBotWithFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	factory := NewComponentFactory(cfg, logger)
	return factory.CreateBot(ctx)
}

// Loader возвращает загрузчик модулей
func (b *Bot) Loader() *loader.Loader {
	return b.loader
}

// Registry возвращает реестр команд
func (b *Bot) Registry() *registry.Registry {
	return b.registry
}

// Boot запускает цикл, загружает модули из директории, подписывает
// диспетчер и панель на транспорт и запускает фоновые задачи. Сам
// транспорт при этом не запускается.
func (b *Bot) Boot(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.ctx.Err() != nil {
		return fmt.Errorf("bot is stopped")
	}
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bot already started")
	}

	b.loop.Start()

	var report loader.DirectoryReport
	err := b.loop.Do(ctx, worker.Job{
		Name:   "load_modules",
		Module: "core",
		Handler: func(ctx context.Context) error {
			var loadErr error
			report, loadErr = b.loader.LoadFromDirectory(ctx, b.loader.Dir())
			return loadErr
		},
	})
	if err != nil {
		return fmt.Errorf("failed to load modules: %w", err)
	}
	for name, loadErr := range report.Failed {
		b.logger.Warn("Module failed to load on startup", zap.String("module", name), zap.Error(loadErr))
	}
	b.metrics.SetLastReload(time.Now())

	b.jobs.Start()
	b.dispatcher.Subscribe(b.loop)
	b.panel.Start()

	b.logger.Info("Modules loaded",
		zap.Int("loaded", report.Count()),
		zap.Int("failed", len(report.Failed)),
		zap.Int("commands", b.registry.Len()))

	b.startBackground()
	return nil
}

// startBackground запускает health check сервер и периодическую очистку
func (b *Bot) startBackground() {
	if b.health != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.health.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("Health check server failed", zap.Error(err))
			}
		}()
		b.health.SetReady(true)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.rateLimiter.Cleanup()
				if b.debouncer != nil {
					b.debouncer.Cleanup()
				}
			case <-b.ctx.Done():
				return
			}
		}
	}()
}

// Start запускает бота и блокируется до остановки транспорта
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot")

	if err := b.Boot(ctx); err != nil {
		return err
	}

	b.logger.Info("Bot started successfully")
	if b.runner == nil {
		<-b.ctx.Done()
		return nil
	}
	return b.runTransport(ctx)
}

// runTransport перезапускает транспорт с нарастающей задержкой
func (b *Bot) runTransport(ctx context.Context) error {
	restartAttempts := 0
	for {
		err := b.runner(ctx)
		if ctx.Err() != nil || b.ctx.Err() != nil {
			b.logger.Info("Transport stopped due to context cancellation")
			return nil
		}
		if err == nil {
			restartAttempts = 0
			continue
		}

		restartAttempts++
		b.logger.Error("Transport error",
			zap.Error(err),
			zap.Int("restart_attempt", restartAttempts),
			zap.Int("max_attempts", maxRestartAttempts))
		if restartAttempts > maxRestartAttempts {
			return fmt.Errorf("max restart attempts reached: %w", err)
		}

		delay := time.Duration(restartAttempts) * restartDelay
		if delay > maxRestartDelay {
			delay = maxRestartDelay
		}
		b.logger.Info("Waiting before restart", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-b.ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// Stop останавливает бота: выгружает модули и закрывает хранилище
func (b *Bot) Stop() error {
	var stopErr error
	b.stopOnce.Do(func() {
		b.logger.Info("Stopping bot gracefully")
		if b.health != nil {
			b.health.SetReady(false)
		}
		b.lifecycle.Lock()
		defer b.lifecycle.Unlock()
		b.cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if b.started.Load() {
			b.jobs.Stop()
			err := b.loop.Do(shutdownCtx, worker.Job{
				Name:   "shutdown_modules",
				Module: "core",
				Handler: func(ctx context.Context) error {
					b.loader.Shutdown(ctx)
					return nil
				},
			})
			if err != nil {
				b.logger.Error("Failed to unload modules", zap.Error(err))
			}
			b.loop.Stop()
		}

		if b.health != nil {
			if err := b.health.Stop(); err != nil {
				b.logger.Error("Failed to stop health check server", zap.Error(err))
			}
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			b.wg.Wait()
		}()
		select {
		case <-done:
			b.logger.Info("All goroutines stopped successfully")
		case <-shutdownCtx.Done():
			b.logger.Warn("Graceful shutdown timeout exceeded, forcing stop")
		}

		if err := b.store.Close(); err != nil {
			b.logger.Error("Failed to close settings store", zap.Error(err))
			stopErr = err
		}
		b.logger.Info("Bot stopped successfully")
	})
	return stopErr
}
