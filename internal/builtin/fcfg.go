package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"kubot/internal/format"
	"kubot/internal/module"

	"go.uber.org/zap"
)

const fcfgUsage = "fcfg set|remove|reset -m <модуль> <ключ> [значение]"

// fcfg меняет настройки модулей: set -m mod key value, remove -m mod key, reset -m mod
func (m *Modules) fcfg(ctx context.Context, ev *module.Event) error {
	tokens, rest := cutFields(ev.Args, 3)
	if len(tokens) < 3 || tokens[1] != "-m" {
		return m.usage(ctx, ev, fcfgUsage)
	}
	action := strings.ToLower(tokens[0])

	desc, ok := m.findModule(tokens[2])
	if !ok {
		return m.reply(ctx, ev, fmt.Sprintf("❌ Модуль %s не найден", format.Bold(tokens[2])))
	}
	moduleName := desc.Name

	if action == "reset" {
		removed, err := m.deps.Store.Reset(moduleName)
		if err != nil {
			return fmt.Errorf("failed to reset settings: %w", err)
		}
		m.logger.Info("Module settings reset", zap.String("module", moduleName), zap.Int("removed", removed))
		return m.reply(ctx, ev, fmt.Sprintf("♻️ Настройки %s сброшены (%d)", format.Bold(moduleName), removed))
	}

	keyTokens, value := cutFields(rest, 1)
	if len(keyTokens) == 0 {
		return m.usage(ctx, ev, fcfgUsage)
	}
	key := keyTokens[0]

	switch action {
	case "set":
		if value == "" {
			return m.usage(ctx, ev, "fcfg set -m <модуль> <ключ> <значение>")
		}
		parsed, err := m.deps.Store.SetInput(moduleName, key, value)
		if err != nil {
			return m.reply(ctx, ev, "❌ "+format.Escape(err.Error()))
		}
		return m.reply(ctx, ev, fmt.Sprintf("✅ %s.%s = %s",
			format.Escape(moduleName), format.Escape(key), format.Code(fmt.Sprint(parsed))))
	case "remove":
		if !m.deps.Store.IsCustom(moduleName, key) {
			return m.reply(ctx, ev, fmt.Sprintf("ℹ️ У %s.%s нет своего значения", format.Escape(moduleName), format.Escape(key)))
		}
		if err := m.deps.Store.Remove(moduleName, key); err != nil {
			return fmt.Errorf("failed to remove setting: %w", err)
		}
		return m.reply(ctx, ev, fmt.Sprintf("🗑 %s.%s сброшен к значению по умолчанию", format.Escape(moduleName), format.Escape(key)))
	default:
		return m.usage(ctx, ev, fcfgUsage)
	}
}

// cutFields отделяет n первых слов и возвращает остаток без крайних пробелов.
// Пробелы внутри остатка сохраняются.
func cutFields(s string, n int) ([]string, string) {
	tokens := make([]string, 0, n)
	rest := strings.TrimLeftFunc(s, unicode.IsSpace)
	for len(tokens) < n && rest != "" {
		idx := strings.IndexFunc(rest, unicode.IsSpace)
		if idx < 0 {
			tokens = append(tokens, rest)
			rest = ""
			break
		}
		tokens = append(tokens, rest[:idx])
		rest = strings.TrimLeftFunc(rest[idx:], unicode.IsSpace)
	}
	return tokens, strings.TrimSpace(rest)
}
