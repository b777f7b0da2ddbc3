// Package panel реализует административную панель владельца: меню на
// встроенных клавиатурах поверх загрузчика и хранилища настроек.
package panel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kubot/internal/builtin"
	"kubot/internal/debounce"
	"kubot/internal/format"
	"kubot/internal/loader"
	"kubot/internal/module"
	"kubot/internal/registry"
	"kubot/internal/settings"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

// CommandName команда открытия панели
const CommandName = "panel"

// Префикс данных кнопок панели
const dataPrefix = "p:"

// Deps зависимости панели
type Deps struct {
	Loader    *loader.Loader
	Registry  *registry.Registry
	Store     *settings.Store
	Transport module.InteractiveTransport
	Loop      worker.Submitter
	IsOwner   func(senderID int64) bool
	Debouncer debounce.DebouncerInterface
}

// pendingEdit ожидание нового значения настройки от владельца
type pendingEdit struct {
	module    string
	key       string
	messageID int
	since     time.Time
}

// Panel административная панель
type Panel struct {
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	pending map[int64]pendingEdit
}

// New создает панель
func New(d Deps, logger *zap.Logger) *Panel {
	if d.Loop == nil {
		d.Loop = worker.Inline{}
	}
	if d.Debouncer == nil {
		d.Debouncer = debounce.NewDebouncer(debounce.DefaultTimeout)
	}
	if d.IsOwner == nil {
		d.IsOwner = func(int64) bool { return false }
	}
	return &Panel{
		deps:    d,
		logger:  logger,
		pending: make(map[int64]pendingEdit),
	}
}

// Command возвращает команду открытия панели для модуля core
func (p *Panel) Command() *module.Command {
	return &module.Command{
		Name:        CommandName,
		Description: "Панель управления модулями",
		Category:    "система",
		Handler:     p.open,
	}
}

// Attach добавляет команду панели в дескриптор
func (p *Panel) Attach(desc *module.Descriptor) {
	desc.AddCommand(p.Command())
}

// Start подписывает панель на нажатия и сообщения владельца. Обработка идет
// в общем цикле.
func (p *Panel) Start() module.Handle {
	p.deps.Transport.OnCallback(func(_ context.Context, cb *module.Callback) {
		if !strings.HasPrefix(cb.Data, dataPrefix) {
			return
		}
		p.submit("panel_callback", cb.SenderID, func(ctx context.Context) error {
			return p.HandleCallback(ctx, cb)
		})
	})
	return p.deps.Transport.On(module.EventFilter{}, func(_ context.Context, ev *module.Event) {
		if !p.isWaiting(ev.ChatID) {
			return
		}
		p.submit("panel_input", ev.SenderID, func(ctx context.Context) error {
			p.HandleMessage(ctx, ev)
			return nil
		})
	})
}

func (p *Panel) submit(name string, userID int64, fn func(ctx context.Context) error) {
	err := p.deps.Loop.Submit(worker.Job{Name: name, Module: "panel", UserID: userID, Handler: fn})
	if err != nil {
		p.logger.Warn("Failed to schedule panel job", zap.String("job", name), zap.Error(err))
	}
}

func (p *Panel) open(ctx context.Context, ev *module.Event) error {
	if !ev.Outgoing && !p.deps.IsOwner(ev.SenderID) {
		return module.Reply(ctx, p.deps.Transport, ev, "🔒 Только для владельца")
	}
	text, kb := p.homeView()
	_, err := p.deps.Transport.SendKeyboard(ctx, ev.ChatID, text, kb)
	return err
}

// HandleCallback обрабатывает нажатие кнопки панели
func (p *Panel) HandleCallback(ctx context.Context, cb *module.Callback) error {
	if !p.deps.IsOwner(cb.SenderID) {
		return p.deps.Transport.AnswerCallback(ctx, cb.ID, "🔒 Только для владельца")
	}
	if !p.deps.Debouncer.CanProcessRequest(fmt.Sprintf("%d:%s", cb.SenderID, cb.Data)) {
		p.logger.Debug("Panel callback debounced", zap.String("data", cb.Data))
		return p.deps.Transport.AnswerCallback(ctx, cb.ID, "⏳ Подождите…")
	}

	action, arg, key := parseData(cb.Data)
	logger := p.logger.With(zap.String("action", action), zap.String("module", arg))
	logger.Debug("Panel callback")

	var (
		text   string
		kb     module.Keyboard
		notice string
	)
	switch action {
	case "home":
		text, kb = p.homeView()
	case "mods":
		text, kb = p.modulesView()
	case "mod":
		text, kb = p.moduleView(arg)
	case "tog":
		notice = p.toggle(ctx, arg)
		text, kb = p.moduleView(arg)
	case "rel":
		notice = p.reloadModule(ctx, arg)
		text, kb = p.moduleView(arg)
	case "del":
		text, kb = p.confirmDeleteView(arg)
	case "delok":
		notice = p.uninstall(ctx, arg)
		text, kb = p.modulesView()
	case "cfg":
		text, kb = p.settingsView(arg)
	case "set":
		text, kb = p.awaitInput(cb, arg, key)
	case "unset":
		if err := p.deps.Store.Remove(arg, key); err != nil {
			notice = "❌ " + err.Error()
		}
		text, kb = p.settingsView(arg)
	case "reset":
		if _, err := p.deps.Store.Reset(arg); err != nil {
			notice = "❌ " + err.Error()
		} else {
			notice = "♻️ Настройки сброшены"
		}
		text, kb = p.settingsView(arg)
	case "cancel":
		p.clearPending(cb.ChatID)
		text, kb = p.settingsView(arg)
	case "reload":
		report, err := p.deps.Loader.Reload(ctx)
		if err != nil {
			text = "❌ " + format.Escape(err.Error())
		} else {
			text = "🔄 " + builtin.ReloadSummary(report, p.deps.Registry.Len())
		}
		kb = module.Keyboard{module.Row(button("⬅️ Назад", "home"))}
	case "close":
		p.clearPending(cb.ChatID)
		if err := p.deps.Transport.DeleteMessage(ctx, cb.ChatID, cb.MessageID); err != nil {
			logger.Warn("Failed to close panel", zap.Error(err))
		}
		return p.deps.Transport.AnswerCallback(ctx, cb.ID, "")
	default:
		return p.deps.Transport.AnswerCallback(ctx, cb.ID, "❓ Неизвестное действие")
	}

	if err := p.deps.Transport.EditKeyboard(ctx, cb.ChatID, cb.MessageID, text, kb); err != nil {
		logger.Warn("Failed to update panel", zap.Error(err))
	}
	return p.deps.Transport.AnswerCallback(ctx, cb.ID, notice)
}

// parseData разбирает данные кнопки вида p:действие[:модуль[:ключ]]
func parseData(data string) (action, arg, key string) {
	parts := strings.SplitN(strings.TrimPrefix(data, dataPrefix), ":", 3)
	action = parts[0]
	if len(parts) > 1 {
		arg = parts[1]
	}
	if len(parts) > 2 {
		key = parts[2]
	}
	return action, arg, key
}

func button(text string, parts ...string) module.Button {
	return module.Button{Text: text, Data: dataPrefix + strings.Join(parts, ":")}
}
