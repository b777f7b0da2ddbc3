package builtin

import (
	"context"
	"fmt"
	"strings"

	"kubot/internal/deps"
	"kubot/internal/format"
	"kubot/internal/module"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

const pkgUsage = "pkg install|uninstall|check|deps|list [имя]"

func (m *Modules) pkg(ctx context.Context, ev *module.Event) error {
	if m.deps.Packages == nil {
		return m.reply(ctx, ev, "❌ Менеджер пакетов недоступен")
	}

	sub, rest, _ := strings.Cut(strings.TrimSpace(ev.Args), " ")
	name := strings.TrimSpace(rest)
	switch strings.ToLower(sub) {
	case "install":
		if name == "" {
			return m.usage(ctx, ev, "pkg install <пакет>")
		}
		return m.pkgInstall(ctx, ev, name)
	case "uninstall", "remove":
		if name == "" {
			return m.usage(ctx, ev, "pkg uninstall <пакет>")
		}
		id, err := m.progress(ctx, ev, "⏳ Удаление "+format.Code(name)+"…")
		if err != nil {
			return err
		}
		ok, msg := m.deps.Packages.Uninstall(ctx, name)
		text := "✅ Пакет " + format.Code(name) + " удалён"
		if !ok {
			text = "❌ Не удалось удалить " + format.Code(name) + ": " + format.Escape(msg)
		}
		return m.deps.Transport.EditMessage(ctx, ev.ChatID, id, text)
	case "check":
		if name == "" {
			return m.usage(ctx, ev, "pkg check <пакет>")
		}
		if m.deps.Packages.IsInstalled(name) {
			return m.reply(ctx, ev, "✅ Пакет "+format.Code(name)+" установлен")
		}
		return m.reply(ctx, ev, "❌ Пакет "+format.Code(name)+" не установлен")
	case "deps":
		if name == "" {
			return m.usage(ctx, ev, "pkg deps <модуль>")
		}
		return m.pkgDeps(ctx, ev, name)
	case "list":
		rocks, err := m.deps.Packages.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list packages: %w", err)
		}
		if len(rocks) == 0 {
			return m.reply(ctx, ev, "📭 Пакетов нет")
		}
		var b strings.Builder
		fmt.Fprintf(&b, "📦 <b>Пакеты</b> (%d)\n", len(rocks))
		for _, rock := range rocks {
			fmt.Fprintf(&b, "\n• %s", format.Code(rock))
		}
		return m.reply(ctx, ev, truncateHTML(b.String()))
	default:
		return m.usage(ctx, ev, pkgUsage)
	}
}

// pkgInstall запускает установку в фоне; итог редактирует сообщение из общего цикла
func (m *Modules) pkgInstall(ctx context.Context, ev *module.Event, name string) error {
	if m.deps.Packages.IsInstalled(name) {
		return m.reply(ctx, ev, "✅ Пакет "+format.Code(name)+" уже установлен")
	}
	id, err := m.progress(ctx, ev, "⏳ Установка "+format.Code(name)+"…")
	if err != nil {
		return err
	}

	chatID := ev.ChatID
	results := m.deps.Packages.InstallAsync(context.WithoutCancel(ctx), name, m.deps.InstallTimeout)
	go func() {
		res := <-results
		text := "✅ Пакет " + format.Code(res.Name) + " установлен"
		if !res.OK {
			text = "❌ Не удалось установить " + format.Code(res.Name) + ": " + format.Escape(format.Truncate(res.Message, 300))
		}
		err := m.deps.Loop.Submit(worker.Job{
			Name:   "pkg_install_done",
			Module: CoreModule,
			Handler: func(ctx context.Context) error {
				return m.deps.Transport.EditMessage(ctx, chatID, id, text)
			},
		})
		if err != nil {
			m.logger.Error("Failed to submit package install result", zap.String("package", name), zap.Error(err))
		}
	}()
	return nil
}

func (m *Modules) pkgDeps(ctx context.Context, ev *module.Event, name string) error {
	desc, ok := m.findModule(name)
	if !ok {
		return m.reply(ctx, ev, fmt.Sprintf("❌ Модуль %s не найден", format.Bold(name)))
	}
	if len(desc.Requirements) == 0 {
		return m.reply(ctx, ev, fmt.Sprintf("📦 У модуля %s нет зависимостей", format.Bold(desc.Name)))
	}
	return m.reply(ctx, ev, DependencyText(desc.Name, desc.Requirements, desc.Dependencies, m.deps.Packages.IsInstalled))
}

// DependencyText описывает зависимости модуля с текущим состоянием пакетов
func DependencyText(name string, requirements []string, report deps.Report, installed func(string) bool) string {
	failed := make(map[string]string, len(report.Failed))
	for _, f := range report.Failed {
		failed[f.Name] = f.Error
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 <b>Зависимости %s</b>\n", format.Escape(name))
	for _, req := range requirements {
		switch {
		case installed(req):
			fmt.Fprintf(&b, "\n✅ %s", format.Code(req))
		case failed[req] != "":
			fmt.Fprintf(&b, "\n❌ %s: %s", format.Code(req), format.Escape(format.Truncate(failed[req], 200)))
		default:
			fmt.Fprintf(&b, "\n❌ %s", format.Code(req))
		}
	}
	return b.String()
}

// findModule ищет активный модуль без учета регистра
func (m *Modules) findModule(name string) (*module.Descriptor, bool) {
	if desc, ok := m.deps.Loader.Get(name); ok {
		return desc, true
	}
	for _, desc := range m.deps.Loader.Modules() {
		if strings.EqualFold(desc.Name, name) {
			return desc, true
		}
	}
	return nil, false
}
