package panel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"kubot/internal/builtin"
	"kubot/internal/format"
	"kubot/internal/loader"
	"kubot/internal/module"

	"go.uber.org/zap"
)

// pendingTTL время ожидания нового значения настройки
const pendingTTL = 5 * time.Minute

func (p *Panel) toggle(ctx context.Context, name string) string {
	if name == builtin.CoreModule {
		return "❌ Модуль core нельзя отключить"
	}
	result, err := p.deps.Loader.Toggle(ctx, name)
	if err != nil {
		p.logger.Warn("Panel toggle failed", zap.String("module", name), zap.Error(err))
		return "❌ " + format.Truncate(err.Error(), 180)
	}
	notice := "🟢 Включен"
	if result.Disabled {
		notice = "🔴 Отключен"
	}
	if !result.Applied {
		notice += ", нужен перезапуск"
	}
	return notice
}

func (p *Panel) reloadModule(ctx context.Context, name string) string {
	if p.deps.Loader.IsBuiltin(name) {
		return "❌ Встроенный модуль не перезагружается"
	}
	path := filepath.Join(p.deps.Loader.Dir(), name+loader.Extension)
	if desc, ok := p.deps.Loader.Get(name); ok && desc.Path != "" {
		path = desc.Path
	}
	if _, err := p.deps.Loader.LoadFromPath(ctx, path); err != nil {
		p.logger.Warn("Panel module reload failed", zap.String("module", name), zap.Error(err))
		return "❌ " + format.Truncate(err.Error(), 180)
	}
	return "♻️ Перезагружен"
}

func (p *Panel) uninstall(ctx context.Context, name string) string {
	result, err := p.deps.Loader.Uninstall(ctx, name)
	switch {
	case errors.Is(err, module.ErrBuiltinModule):
		return "❌ Встроенный модуль нельзя удалить"
	case errors.Is(err, module.ErrModuleNotFound):
		return "❌ Модуль не найден"
	case err != nil:
		return "❌ " + format.Truncate(err.Error(), 180)
	case result.Deleted:
		return "🗑 Удалён"
	default:
		return "✅ Выгружен"
	}
}

func (p *Panel) awaitInput(cb *module.Callback, name, key string) (string, module.Keyboard) {
	var entryType, label string
	for _, entry := range p.deps.Store.Schema(name) {
		if entry.Key == key {
			entryType, label = entry.Type.String(), entry.Label
		}
	}
	if entryType == "" {
		return p.settingsView(name)
	}

	p.mu.Lock()
	p.pending[cb.ChatID] = pendingEdit{module: name, key: key, messageID: cb.MessageID, since: time.Now()}
	p.mu.Unlock()

	current := p.deps.Store.Get(name, key, nil)
	text := fmt.Sprintf("✏️ %s (%s)\nТип: %s\nСейчас: %s\n\nОтправьте новое значение следующим сообщением.",
		format.Bold(label), format.Code(name+"."+key), entryType, format.Code(fmt.Sprint(current)))
	return text, module.Keyboard{module.Row(button("✖️ Отмена", "cancel", name))}
}

func (p *Panel) isWaiting(chatID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	edit, ok := p.pending[chatID]
	if ok && time.Since(edit.since) > pendingTTL {
		delete(p.pending, chatID)
		return false
	}
	return ok
}

func (p *Panel) clearPending(chatID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, chatID)
}

// HandleMessage принимает новое значение настройки, если панель его ждет.
// Команды с префиксом не перехватываются.
func (p *Panel) HandleMessage(ctx context.Context, ev *module.Event) {
	if !ev.Outgoing && !p.deps.IsOwner(ev.SenderID) {
		return
	}
	text := strings.TrimSpace(ev.RawText)
	if text == "" || strings.HasPrefix(text, p.deps.Store.Prefix()) {
		return
	}

	p.mu.Lock()
	edit, ok := p.pending[ev.ChatID]
	p.mu.Unlock()
	if !ok {
		return
	}

	value, err := p.deps.Store.SetInput(edit.module, edit.key, text)
	if err != nil {
		if replyErr := module.Reply(ctx, p.deps.Transport, ev, "❌ "+format.Escape(err.Error())); replyErr != nil {
			p.logger.Warn("Failed to reply to panel input", zap.Error(replyErr))
		}
		return
	}
	p.clearPending(ev.ChatID)
	p.logger.Info("Setting changed from panel",
		zap.String("module", edit.module),
		zap.String("key", edit.key))

	if err := p.deps.Transport.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
		p.logger.Debug("Failed to delete panel input", zap.Error(err))
	}
	view, kb := p.settingsView(edit.module)
	view = fmt.Sprintf("✅ %s = %s\n\n", format.Code(edit.key), format.Code(fmt.Sprint(value))) + view
	if err := p.deps.Transport.EditKeyboard(ctx, ev.ChatID, edit.messageID, view, kb); err != nil {
		p.logger.Warn("Failed to update panel", zap.Error(err))
	}
}
