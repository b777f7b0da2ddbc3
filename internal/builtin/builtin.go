// Package builtin содержит встроенные модули core и tools. Они написаны на Go,
// регистрируются до сканирования каталога и не выгружаются при перезагрузке.
package builtin

import (
	"context"
	"fmt"
	"time"

	"kubot/internal/deps"
	"kubot/internal/format"
	"kubot/internal/loader"
	"kubot/internal/module"
	"kubot/internal/registry"
	"kubot/internal/settings"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

// Имена встроенных модулей
const (
	CoreModule  = "core"
	ToolsModule = "tools"
)

const (
	maxMessageLength   = 4000
	maxPrefixLength    = 3
	maxSelfDestruct    = 24 * time.Hour
	defaultInstallWait = 120 * time.Second
	defaultDocumentMax = 5 << 20
)

// PackageManager менеджер пакетов Lua
type PackageManager interface {
	IsInstalled(name string) bool
	InstallAsync(ctx context.Context, name string, timeout time.Duration) <-chan deps.Result
	Uninstall(ctx context.Context, name string) (bool, string)
	List(ctx context.Context) ([]string, error)
}

var _ PackageManager = (*deps.Resolver)(nil)

// Deps зависимости встроенных модулей
type Deps struct {
	Loader    *loader.Loader
	Registry  *registry.Registry
	Store     *settings.Store
	Packages  PackageManager
	Transport module.Transport
	Loop      worker.Submitter
	StartedAt time.Time
	Version   string
	// IsOwner проверяет, что отправитель владелец бота
	IsOwner func(senderID int64) bool

	MaxDocumentBytes int64
	InstallTimeout   time.Duration
}

// Modules держит общие зависимости обработчиков встроенных модулей
type Modules struct {
	deps    Deps
	history *History
	logger  *zap.Logger
}

// New создает набор встроенных модулей
func New(d Deps, logger *zap.Logger) *Modules {
	if d.MaxDocumentBytes <= 0 {
		d.MaxDocumentBytes = defaultDocumentMax
	}
	if d.InstallTimeout <= 0 {
		d.InstallTimeout = defaultInstallWait
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	if d.Loop == nil {
		d.Loop = worker.Inline{}
	}
	if d.IsOwner == nil {
		d.IsOwner = func(int64) bool { return false }
	}
	return &Modules{deps: d, history: NewHistory(0, 0), logger: logger}
}

// Register регистрирует core и tools в загрузчике. Отключенные модули
// пропускаются, кроме core.
func (m *Modules) Register(extra ...func(*module.Descriptor)) error {
	core := m.Core()
	for _, fn := range extra {
		fn(core)
	}
	for _, desc := range []*module.Descriptor{core, m.Tools()} {
		if desc.Name != CoreModule && m.deps.Store.IsDisabled(desc.Name) {
			m.logger.Info("Built-in module disabled, skipping", zap.String("module", desc.Name))
			continue
		}
		if err := m.deps.Loader.RegisterBuiltin(desc); err != nil {
			return fmt.Errorf("failed to register %s: %w", desc.Name, err)
		}
		if desc.Name == ToolsModule {
			m.history.Attach(m.deps.Transport)
		}
	}
	return nil
}

// reply отвечает на событие
func (m *Modules) reply(ctx context.Context, ev *module.Event, text string) error {
	return module.Reply(ctx, m.deps.Transport, ev, text)
}

// progress показывает промежуточный ответ и возвращает идентификатор сообщения
// для последующего редактирования
func (m *Modules) progress(ctx context.Context, ev *module.Event, text string) (int, error) {
	if ev.Outgoing && ev.MessageID != 0 {
		return ev.MessageID, m.deps.Transport.EditMessage(ctx, ev.ChatID, ev.MessageID, text)
	}
	return m.deps.Transport.SendMessage(ctx, ev.ChatID, text)
}

// ownerOnly пропускает к обработчику только владельца
func (m *Modules) ownerOnly(next module.HandlerFunc) module.HandlerFunc {
	return func(ctx context.Context, ev *module.Event) error {
		if !ev.Outgoing && !m.deps.IsOwner(ev.SenderID) {
			m.logger.Warn("Privileged command refused",
				zap.String("command", ev.Command),
				zap.Int64("user_id", ev.SenderID))
			return m.reply(ctx, ev, "🔒 Только для владельца")
		}
		return next(ctx, ev)
	}
}

// usage отвечает подсказкой по использованию команды
func (m *Modules) usage(ctx context.Context, ev *module.Event, usage string) error {
	return m.reply(ctx, ev, "ℹ️ Использование: "+format.Code(m.deps.Store.Prefix()+usage))
}
