package builtin

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"kubot/internal/format"
	"kubot/internal/module"

	"go.uber.org/zap"
)

// Core возвращает дескриптор модуля core
func (m *Modules) Core() *module.Descriptor {
	desc := &module.Descriptor{
		Name:        CoreModule,
		Description: "Управление ботом и модулями",
		Author:      "kubot",
		Version:     m.deps.Version,
	}

	commands := []*module.Command{
		{Name: "help", Handler: m.help, Description: "Список команд или справка по команде", Usage: "help [команда|модуль]"},
		{Name: "ping", Handler: m.ping, Description: "Проверка задержки"},
		{Name: "alive", Handler: m.alive, Description: "Проверка, что бот работает"},
		{Name: "status", Handler: m.status, Description: "Состояние бота"},
		{Name: "prefix", Handler: m.ownerOnly(m.prefix), Description: "Показать или сменить префикс", Usage: "prefix [новый]"},
		{Name: "modules", Handler: m.modules, Description: "Загруженные модули"},
		{Name: "lm", Handler: m.listInstalled, Description: "Установленные модули"},
		{Name: "im", Handler: m.ownerOnly(m.installDocument), Description: "Установить модуль из файла (ответом на .lua)", Usage: "im"},
		{Name: "dlm", Handler: m.ownerOnly(m.installURL), Description: "Установить модуль по ссылке", Usage: "dlm <url>"},
		{Name: "um", Handler: m.ownerOnly(m.uninstall), Description: "Удалить модуль", Usage: "um <модуль>"},
		{Name: "reload", Handler: m.ownerOnly(m.reload), Description: "Перезагрузить модули из каталога"},
		{Name: "toggle", Handler: m.ownerOnly(m.toggle), Description: "Включить или отключить модуль", Usage: "toggle <модуль>"},
		{Name: "pkg", Handler: m.ownerOnly(m.pkg), Description: "Управление пакетами Lua", Usage: "pkg install|uninstall|check|deps|list [имя]"},
		{Name: "fcfg", Handler: m.ownerOnly(m.fcfg), Description: "Настройки модулей", Usage: "fcfg set|remove|reset -m <модуль> <ключ> [значение]"},
		{Name: "kinfo", Handler: m.kinfo, Description: "Карточка бота"},
		{Name: "kset", Handler: m.ownerOnly(m.kset), Description: "Настроить карточку kinfo и ответ alive", Usage: ksetUsage},
		{Name: "settoken", Handler: m.ownerOnly(m.settoken), Description: "Показать или сменить токен бота", Usage: "settoken [токен|remove]"},
	}
	for _, cmd := range commands {
		cmd.Category = "система"
		desc.AddCommand(cmd)
	}
	return desc
}

func (m *Modules) uptime() string {
	return format.Duration(time.Since(m.deps.StartedAt))
}

func (m *Modules) help(ctx context.Context, ev *module.Event) error {
	prefix := m.deps.Store.Prefix()
	if query := strings.ToLower(strings.TrimSpace(ev.Args)); query != "" {
		return m.reply(ctx, ev, m.helpFor(prefix, query))
	}

	byModule := m.deps.Registry.ByModule()
	var b strings.Builder
	fmt.Fprintf(&b, "📖 <b>Команды</b> (префикс %s)\n", format.Code(prefix))
	for _, desc := range m.deps.Loader.Modules() {
		cmds := byModule[desc.Name]
		if len(cmds) == 0 {
			continue
		}
		icon := "🟢"
		if desc.Builtin {
			icon = "🔵"
		}
		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, format.Code(cmd.Name))
		}
		fmt.Fprintf(&b, "\n%s %s: %s", icon, format.Bold(format.Title(desc.Name)), strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "\n\nℹ️ %s", format.Code(prefix+"help <команда>"))
	return m.reply(ctx, ev, truncateHTML(b.String()))
}

func (m *Modules) helpFor(prefix, query string) string {
	for _, desc := range m.deps.Loader.Modules() {
		if !strings.EqualFold(desc.Name, query) {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "📦 %s", format.Bold(format.Title(desc.Name)))
		if desc.Version != "" {
			fmt.Fprintf(&b, " v%s", format.Escape(desc.Version))
		}
		if desc.Description != "" {
			fmt.Fprintf(&b, "\n%s", format.Escape(desc.Description))
		}
		b.WriteString("\n")
		for _, cmd := range desc.Commands() {
			fmt.Fprintf(&b, "\n• %s", format.Code(prefix+cmd.Name))
			if cmd.Description != "" {
				fmt.Fprintf(&b, ": %s", format.Escape(cmd.Description))
			}
		}
		return truncateHTML(b.String())
	}

	if cmd, ok := m.deps.Registry.Lookup(query); ok {
		var b strings.Builder
		fmt.Fprintf(&b, "📘 %s\n", format.Code(prefix+cmd.Name))
		if cmd.Description != "" {
			fmt.Fprintf(&b, "%s\n", format.Escape(cmd.Description))
		}
		if cmd.Usage != "" {
			fmt.Fprintf(&b, "Использование: %s\n", format.Code(prefix+cmd.Usage))
		}
		fmt.Fprintf(&b, "Модуль: %s", format.Bold(cmd.Module))
		return b.String()
	}
	return fmt.Sprintf("❌ Команда или модуль %s не найдены", format.Code(query))
}

func (m *Modules) ping(ctx context.Context, ev *module.Event) error {
	start := time.Now()
	id, err := m.progress(ctx, ev, "🏓 Pong!")
	if err != nil {
		return err
	}
	latency := time.Since(start)
	return m.deps.Transport.EditMessage(ctx, ev.ChatID, id,
		fmt.Sprintf("🏓 Pong! %s\n⏱ Аптайм: %s", format.Code(fmt.Sprintf("%dms", latency.Milliseconds())), m.uptime()))
}

func (m *Modules) status(ctx context.Context, ev *module.Event) error {
	active, builtin := m.deps.Loader.Stats()
	stats := m.deps.Store.Stats()
	lines := []string{
		"📊 <b>Состояние</b>",
		fmt.Sprintf("⏱ Аптайм: %s", m.uptime()),
		fmt.Sprintf("🧩 Модули: %d (встроенных %d, пользовательских %d)", active, builtin, active-builtin),
		fmt.Sprintf("📋 Команды: %d", m.deps.Registry.Len()),
		fmt.Sprintf("📈 Выполнено команд: %d", stats.CommandsUsed),
		fmt.Sprintf("🔤 Префикс: %s", format.Code(m.deps.Store.Prefix())),
		fmt.Sprintf("🐹 %s %s/%s", format.Escape(runtime.Version()), runtime.GOOS, runtime.GOARCH),
	}
	if disabled := m.deps.Store.DisabledModules(); len(disabled) > 0 {
		lines = append(lines, fmt.Sprintf("🔴 Отключены: %s", format.Escape(strings.Join(disabled, ", "))))
	}
	if m.deps.Version != "" {
		lines = append(lines, fmt.Sprintf("🏷 Версия: %s", format.Escape(m.deps.Version)))
	}
	return m.reply(ctx, ev, strings.Join(lines, "\n"))
}

func (m *Modules) prefix(ctx context.Context, ev *module.Event) error {
	next := strings.TrimSpace(ev.Args)
	if next == "" {
		return m.reply(ctx, ev, fmt.Sprintf("🔤 Текущий префикс: %s", format.Code(m.deps.Store.Prefix())))
	}
	if utf8.RuneCountInString(next) > maxPrefixLength || strings.ContainsAny(next, " \t\n") {
		return m.reply(ctx, ev, fmt.Sprintf("❌ Префикс должен быть не длиннее %d символов и без пробелов", maxPrefixLength))
	}
	if err := m.deps.Store.SetPrefix(next); err != nil {
		return fmt.Errorf("failed to set prefix: %w", err)
	}
	m.logger.Info("Prefix changed", zap.String("prefix", next))
	return m.reply(ctx, ev, fmt.Sprintf("✅ Префикс изменен на %s", format.Code(next)))
}

func (m *Modules) modules(ctx context.Context, ev *module.Event) error {
	var b strings.Builder
	b.WriteString("🧩 <b>Модули</b>\n")
	for _, desc := range m.deps.Loader.Modules() {
		icon := "🟢"
		if desc.Builtin {
			icon = "🔵"
		}
		fmt.Fprintf(&b, "\n%s %s", icon, format.Bold(desc.Name))
		if desc.Version != "" {
			fmt.Fprintf(&b, " v%s", format.Escape(desc.Version))
		}
		fmt.Fprintf(&b, " · %d команд", len(desc.Commands()))
		if n := len(desc.Settings); n > 0 {
			fmt.Fprintf(&b, " · ⚙️ %d", n)
		}
		if n := len(desc.Requirements); n > 0 {
			fmt.Fprintf(&b, " · 📦 %d", n)
		}
		if failed := desc.Dependencies.FailedNames(); len(failed) > 0 {
			fmt.Fprintf(&b, "\n   ⚠️ нет пакетов: %s", format.Escape(strings.Join(failed, ", ")))
		}
	}
	for _, name := range m.deps.Store.DisabledModules() {
		fmt.Fprintf(&b, "\n🔴 %s (отключен)", format.Bold(name))
	}
	return m.reply(ctx, ev, truncateHTML(b.String()))
}

func (m *Modules) listInstalled(ctx context.Context, ev *module.Event) error {
	installs := m.deps.Store.Installations()
	if len(installs) == 0 {
		return m.reply(ctx, ev, "📭 Установленных модулей нет")
	}

	names := make([]string, 0, len(installs))
	for name := range installs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("📦 <b>Установленные модули</b>\n")
	for _, name := range names {
		inst := installs[name]
		icon := "📎"
		if inst.URL != "" {
			icon = "🌐"
		}
		state := "⚪️"
		if _, ok := m.deps.Loader.Get(name); ok {
			state = "🟢"
		}
		fmt.Fprintf(&b, "\n%s %s %s %s", state, icon, format.Bold(name), format.Code(inst.Filename))
		if !inst.InstalledAt.IsZero() {
			fmt.Fprintf(&b, " · %s", inst.InstalledAt.Format("02.01.06 15:04"))
		}
	}
	return m.reply(ctx, ev, truncateHTML(b.String()))
}

// truncateHTML обрезает длинный ответ по последней целой строке
func truncateHTML(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}
	runes := []rune(text)[:maxMessageLength-1]
	cut := string(runes)
	if idx := strings.LastIndex(cut, "\n"); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "\n…"
}
