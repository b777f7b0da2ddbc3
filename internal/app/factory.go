// Package app содержит фабрику компонентов приложения.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"kubot/internal/builtin"
	"kubot/internal/config"
	"kubot/internal/debounce"
	"kubot/internal/deps"
	"kubot/internal/dispatcher"
	"kubot/internal/health"
	"kubot/internal/jobs"
	"kubot/internal/loader"
	"kubot/internal/metrics"
	"kubot/internal/module"
	"kubot/internal/panel"
	"kubot/internal/registry"
	"kubot/internal/settings"
	"kubot/internal/transport/telegram"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

// Version версия сборки, задается через -ldflags
var Version = "dev"

// ComponentFactory создает компоненты приложения
type ComponentFactory struct {
	config *config.Config
	logger *zap.Logger
}

// NewComponentFactory создает новую фабрику компонентов
func NewComponentFactory(config *config.Config, logger *zap.Logger) *ComponentFactory {
	if config == nil {
		logger.Fatal("Config cannot be nil")
	}
	if logger == nil {
		panic("Logger cannot be nil")
	}

	return &ComponentFactory{
		config: config,
		logger: logger,
	}
}

// CreateAppDataDirectory создает директорию данных приложения
func (f *ComponentFactory) CreateAppDataDirectory() error {
	dataDir := f.config.GetAppDataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		f.logger.Error("Failed to create app data directory", zap.String("dir", dataDir), zap.Error(err))
		return fmt.Errorf("failed to create app data directory: %w", err)
	}
	f.logger.Info("App data directory ready", zap.String("dir", dataDir))
	return nil
}

// CreateSettingsStore открывает хранилище настроек: PostgreSQL, если задан
// SETTINGS_DSN, иначе файл
func (f *ComponentFactory) CreateSettingsStore(ctx context.Context) (*settings.Store, error) {
	var (
		store *settings.Store
		err   error
	)
	if f.config.SettingsDSN != "" {
		backend, backendErr := settings.NewPostgresBackend(ctx, settings.PostgresOptions{
			DSN:   f.config.SettingsDSN,
			Debug: f.config.DebugSQL,
		}, f.logger)
		if backendErr != nil {
			return nil, fmt.Errorf("failed to create settings backend: %w", backendErr)
		}
		store, err = settings.Open(ctx, backend, settings.JSONCodec{}, f.config.DefaultPrefix, f.logger)
	} else {
		store, err = settings.OpenFile(ctx, f.config.SettingsPath, f.config.DefaultPrefix, f.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	if f.config.OwnerID != 0 && store.OwnerID() != f.config.OwnerID {
		if err := store.SetOwnerID(f.config.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to store owner id: %w", err)
		}
	}

	f.logger.Info("Settings store created successfully")
	return store, nil
}

// CreateResolver создает менеджер пакетов Lua
func (f *ComponentFactory) CreateResolver() *deps.Resolver {
	resolver := deps.New(deps.Options{
		Binary:     f.config.Packages.Binary,
		Tree:       f.config.Packages.Tree,
		LuaVersion: f.config.Packages.LuaVersion,
		Timeout:    f.config.Packages.InstallTimeout,
	}, f.logger)
	f.logger.Info("Package resolver created", zap.String("tree", f.config.Packages.Tree))
	return resolver
}

// CreateTelegramClient создает клиент Telegram. Токен из окружения важнее
// токена в документе настроек.
func (f *ComponentFactory) CreateTelegramClient(store *settings.Store) (*telegram.Client, error) {
	token := config.NewConfigLoader(store, f.logger).BotToken(f.config.BotToken)
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	client, err := telegram.NewClient(token, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	f.logger.Info("Telegram client created successfully")
	return client, nil
}

// CreateFetcher создает загрузчик модулей по URL
func (f *ComponentFactory) CreateFetcher() *loader.Fetcher {
	return loader.NewFetcher(loader.FetchConfig{
		Timeout:  f.config.Fetch.Timeout,
		MaxBytes: f.config.Fetch.MaxBytes,
		Retry: loader.RetryConfig{
			MaxRetries:        f.config.Fetch.Retry.MaxRetries,
			InitialDelay:      f.config.Fetch.Retry.InitialDelay,
			MaxDelay:          f.config.Fetch.Retry.MaxDelay,
			BackoffMultiplier: f.config.Fetch.Retry.BackoffMultiplier,
		},
	}, f.logger)
}

// CreateHealthServer создает сервер health check
func (f *ComponentFactory) CreateHealthServer(store *settings.Store, modules health.ModulesInterface, stats health.StatsInterface) (*health.Server, error) {
	if !f.config.HealthCheckEnabled {
		f.logger.Info("Health check server is disabled")
		return nil, nil
	}

	if f.config.HealthPort == "" {
		return nil, fmt.Errorf("health port is required when health check is enabled")
	}

	server := health.NewServer(f.config.HealthPort, f.logger, store, modules, stats)
	f.logger.Info("Health check server created", zap.String("port", f.config.HealthPort))
	return server, nil
}

// isOwner проверяет владельца по окружению и документу настроек
func (f *ComponentFactory) isOwner(store *settings.Store) func(int64) bool {
	owners := config.NewConfigLoader(store, zap.NewNop())
	return func(id int64) bool {
		return id != 0 && id == owners.OwnerID(f.config.OwnerID)
	}
}

// Assemble собирает среду модулей поверх готового хранилища и транспорта
func (f *ComponentFactory) Assemble(store *settings.Store, transport module.InteractiveTransport, resolver loader.DependencyResolver, packages builtin.PackageManager) (*Bot, error) {
	startedAt := time.Now()
	isOwner := f.isOwner(store)

	loop := worker.NewLoop(f.config.LoopQueueSize, f.logger)
	scheduler := jobs.NewScheduler(loop, f.logger)
	m := metrics.NewMetrics(f.logger)
	reg := registry.New(f.logger)

	modLoader := loader.New(loader.Options{
		Dir:       f.config.ModulesDir,
		Transport: transport,
		Store:     store,
		Registry:  reg,
		Resolver:  resolver,
		Jobs:      scheduler,
		Loop:      loop,
		Fetcher:   f.CreateFetcher(),
		Metrics:   m,
		StartedAt: startedAt,
	}, f.logger)

	debouncer := debounce.NewDebouncer(debounce.DefaultTimeout)
	adminPanel := panel.New(panel.Deps{
		Loader:    modLoader,
		Registry:  reg,
		Store:     store,
		Transport: transport,
		Loop:      loop,
		IsOwner:   isOwner,
		Debouncer: debouncer,
	}, f.logger)

	builtins := builtin.New(builtin.Deps{
		Loader:           modLoader,
		Registry:         reg,
		Store:            store,
		Packages:         packages,
		Transport:        transport,
		Loop:             loop,
		StartedAt:        startedAt,
		Version:          Version,
		IsOwner:          isOwner,
		MaxDocumentBytes: f.config.Fetch.MaxBytes,
		InstallTimeout:   f.config.Packages.InstallTimeout,
	}, f.logger)
	if err := builtins.Register(adminPanel.Attach); err != nil {
		return nil, fmt.Errorf("failed to register built-in modules: %w", err)
	}

	rateLimiter := dispatcher.NewRateLimiter(f.config.RateLimitRequests, f.config.RateLimitWindow, isOwner, f.logger)
	disp := dispatcher.New(store, reg, transport, f.logger,
		dispatcher.WithMiddleware(
			dispatcher.Logging(f.logger),
			dispatcher.Metrics(m),
			rateLimiter.Middleware(),
		))

	healthServer, err := f.CreateHealthServer(store, modLoader, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create health server: %w", err)
	}

	bot, err := NewBot(f.config, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	// Устанавливаем компоненты в бота
	bot.store = store
	bot.transport = transport
	bot.loop = loop
	bot.jobs = scheduler
	bot.metrics = m
	bot.registry = reg
	bot.loader = modLoader
	bot.dispatcher = disp
	bot.rateLimiter = rateLimiter
	bot.panel = adminPanel
	bot.debouncer = debouncer
	bot.health = healthServer
	return bot, nil
}

// CreateBot создает полный экземпляр бота со всеми зависимостями
func (f *ComponentFactory) CreateBot(ctx context.Context) (*Bot, error) {
	if err := f.ValidateConfig(); err != nil {
		return nil, err
	}

	// Создаем директорию данных приложения
	if err := f.CreateAppDataDirectory(); err != nil {
		return nil, fmt.Errorf("failed to create app data directory: %w", err)
	}

	store, err := f.CreateSettingsStore(ctx)
	if err != nil {
		return nil, err
	}

	tgClient, err := f.CreateTelegramClient(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	resolver := f.CreateResolver()
	bot, err := f.Assemble(store, tgClient, resolver, resolver)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bot.runner = tgClient.Run

	f.logger.Info("Bot created successfully with all dependencies",
		zap.String("version", Version),
		zap.String("username", tgClient.Username()))
	return bot, nil
}

// ValidateConfig проверяет конфигурацию на корректность
func (f *ComponentFactory) ValidateConfig() error {
	if f.config == nil {
		return fmt.Errorf("config is nil")
	}
	if err := f.config.Validate(); err != nil {
		return err
	}
	if f.config.OwnerID == 0 {
		f.logger.Warn("OWNER_ID is not set; privileged commands use the owner from the settings document")
	}

	f.logger.Info("Configuration validation passed")
	return nil
}
