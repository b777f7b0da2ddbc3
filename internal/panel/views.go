package panel

import (
	"fmt"
	"strings"

	"kubot/internal/builtin"
	"kubot/internal/format"
	"kubot/internal/module"
)

func (p *Panel) homeView() (string, module.Keyboard) {
	active, builtinCount := p.deps.Loader.Stats()
	text := fmt.Sprintf("🛠 <b>Панель управления</b>\n\n🧩 Модулей: %d (встроенных %d)\n📋 Команд: %d\n🔤 Префикс: %s",
		active, builtinCount, p.deps.Registry.Len(), format.Code(p.deps.Store.Prefix()))
	if disabled := p.deps.Store.DisabledModules(); len(disabled) > 0 {
		text += fmt.Sprintf("\n🔴 Отключено: %d", len(disabled))
	}
	kb := module.Keyboard{
		module.Row(button("🧩 Модули", "mods"), button("🔄 Перезагрузить", "reload")),
		module.Row(button("✖️ Закрыть", "close")),
	}
	return text, kb
}

func (p *Panel) modulesView() (string, module.Keyboard) {
	var kb module.Keyboard
	var row []module.Button
	push := func(b module.Button) {
		row = append(row, b)
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}

	for _, desc := range p.deps.Loader.Modules() {
		icon := "🟢"
		if desc.Builtin {
			icon = "🔵"
		}
		push(button(icon+" "+desc.Name, "mod", desc.Name))
	}
	for _, name := range p.deps.Store.DisabledModules() {
		if _, ok := p.deps.Loader.Get(name); ok {
			continue
		}
		push(button("🔴 "+name, "mod", name))
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb, module.Row(button("⬅️ Назад", "home")))
	return "🧩 <b>Модули</b>\n\n🔵 встроенный · 🟢 активен · 🔴 отключен", kb
}

func (p *Panel) moduleView(name string) (string, module.Keyboard) {
	back := module.Row(button("⬅️ К модулям", "mods"))
	desc, active := p.deps.Loader.Get(name)
	disabled := p.deps.Store.IsDisabled(name)

	if !active {
		if !disabled {
			return fmt.Sprintf("❌ Модуль %s не загружен", format.Bold(name)), module.Keyboard{back}
		}
		kb := module.Keyboard{}
		if p.deps.Loader.IsBuiltin(name) || name == builtin.ToolsModule {
			kb = append(kb, module.Row(button("🟢 Включить", "tog", name)))
		} else {
			kb = append(kb, module.Row(button("🟢 Включить", "tog", name), button("🗑 Удалить", "del", name)))
		}
		return fmt.Sprintf("🔴 Модуль %s отключен", format.Bold(name)), append(kb, back)
	}

	var b strings.Builder
	icon := "🟢"
	if desc.Builtin {
		icon = "🔵"
	}
	fmt.Fprintf(&b, "%s %s", icon, format.Bold(desc.Name))
	if desc.Version != "" {
		fmt.Fprintf(&b, " v%s", format.Escape(desc.Version))
	}
	if desc.Author != "" {
		fmt.Fprintf(&b, "\n👤 %s", format.Escape(desc.Author))
	}
	if desc.Description != "" {
		fmt.Fprintf(&b, "\n%s", format.Escape(desc.Description))
	}
	if cmds := desc.Commands(); len(cmds) > 0 {
		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, format.Code(cmd.Name))
		}
		fmt.Fprintf(&b, "\n\n📋 %s", strings.Join(names, ", "))
	}
	if len(desc.Requirements) > 0 {
		fmt.Fprintf(&b, "\n📦 %s", format.Escape(strings.Join(desc.Requirements, ", ")))
	}
	if failed := desc.Dependencies.FailedNames(); len(failed) > 0 {
		fmt.Fprintf(&b, "\n⚠️ Нет пакетов: %s", format.Escape(strings.Join(failed, ", ")))
	}
	if disabled {
		b.WriteString("\n\n♻️ Отключен, выгрузится после перезапуска")
	}

	var kb module.Keyboard
	var actions []module.Button
	if desc.Name != builtin.CoreModule {
		if disabled {
			actions = append(actions, button("🟢 Включить", "tog", name))
		} else {
			actions = append(actions, button("🔴 Отключить", "tog", name))
		}
	}
	if !desc.Builtin {
		actions = append(actions, button("♻️ Перезагрузить", "rel", name), button("🗑 Удалить", "del", name))
	}
	if len(actions) > 0 {
		kb = append(kb, actions)
	}
	if len(desc.Settings) > 0 {
		kb = append(kb, module.Row(button(fmt.Sprintf("⚙️ Настройки (%d)", len(desc.Settings)), "cfg", name)))
	}
	return b.String(), append(kb, back)
}

func (p *Panel) confirmDeleteView(name string) (string, module.Keyboard) {
	text := fmt.Sprintf("🗑 Удалить модуль %s вместе с файлом?", format.Bold(name))
	return text, module.Keyboard{
		module.Row(button("✅ Да, удалить", "delok", name), button("⬅️ Отмена", "mod", name)),
	}
}

func (p *Panel) settingsView(name string) (string, module.Keyboard) {
	back := module.Row(button("⬅️ К модулю", "mod", name))
	schema := p.deps.Store.Schema(name)
	if len(schema) == 0 {
		return fmt.Sprintf("⚙️ У модуля %s нет настроек", format.Bold(name)), module.Keyboard{back}
	}

	values := p.deps.Store.ModuleSettings(name)
	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ <b>Настройки %s</b>\n", format.Escape(name))

	var kb module.Keyboard
	for _, entry := range schema {
		custom := p.deps.Store.IsCustom(name, entry.Key)
		marker := ""
		if custom {
			marker = " ✏️"
		}
		fmt.Fprintf(&b, "\n• %s (%s, %s): %s%s",
			format.Bold(entry.Label), format.Code(entry.Key), entry.Type,
			format.Code(format.Truncate(fmt.Sprint(values[entry.Key]), 100)), marker)
		if entry.Description != "" {
			fmt.Fprintf(&b, "\n  %s", format.Escape(entry.Description))
		}

		row := module.Row(button("✏️ "+entry.Key, "set", name, entry.Key))
		if custom {
			row = append(row, button("↩️ По умолчанию", "unset", name, entry.Key))
		}
		kb = append(kb, row)
	}
	kb = append(kb, module.Row(button("♻️ Сбросить всё", "reset", name)), back)
	return b.String(), kb
}
