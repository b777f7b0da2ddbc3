package builtin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"kubot/internal/format"
	"kubot/internal/loader"
	"kubot/internal/module"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

// installedText описывает результат установки модуля
func (m *Modules) installedText(desc *module.Descriptor) string {
	prefix := m.deps.Store.Prefix()
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Модуль %s установлен", format.Bold(desc.Name))
	if desc.Version != "" {
		fmt.Fprintf(&b, " (v%s)", format.Escape(desc.Version))
	}
	if desc.Description != "" {
		fmt.Fprintf(&b, "\n%s", format.Escape(desc.Description))
	}
	if cmds := desc.Commands(); len(cmds) > 0 {
		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, format.Code(prefix+cmd.Name))
		}
		fmt.Fprintf(&b, "\n📋 Команды: %s", strings.Join(names, ", "))
	}
	if report := desc.Dependencies; len(report.Installed) > 0 {
		fmt.Fprintf(&b, "\n📦 Установлены пакеты: %s", format.Escape(strings.Join(report.Installed, ", ")))
	}
	if failed := desc.Dependencies.Failed; len(failed) > 0 {
		b.WriteString("\n⚠️ Не удалось установить:")
		for _, f := range failed {
			fmt.Fprintf(&b, "\n• %s: %s", format.Code(f.Name), format.Escape(format.Truncate(f.Error, 200)))
		}
	}
	return b.String()
}

var errDownload = errors.New("failed to download file")

// installFailedText описывает ошибку установки
func installFailedText(err error) string {
	var loadErr *module.LoadError
	switch {
	case errors.Is(err, errDownload):
		return "❌ Не удалось скачать файл: " + format.Escape(format.Truncate(err.Error(), 300))
	case errors.Is(err, module.ErrReservedName):
		return "❌ Имя занято встроенным модулем"
	case errors.Is(err, module.ErrInvalidFilename):
		return "❌ Нужен файл с расширением .lua"
	case errors.Is(err, module.ErrInvalidEncoding):
		return "❌ Файл не в кодировке UTF-8"
	case errors.Is(err, module.ErrHTMLPayload):
		return "❌ По ссылке HTML-страница, а не код модуля: " + format.Escape(format.Truncate(err.Error(), 300))
	case errors.As(err, &loadErr):
		return fmt.Sprintf("❌ Ошибка загрузки (%s):\n%s", loadErr.Stage, format.Code(format.Truncate(loadErr.Err.Error(), 500)))
	default:
		return "❌ " + format.Escape(format.Truncate(err.Error(), 500))
	}
}

func (m *Modules) installDocument(ctx context.Context, ev *module.Event) error {
	if !ev.IsReply || ev.Reply == nil || ev.Reply.Document == nil {
		return m.reply(ctx, ev, "ℹ️ Ответьте этой командой на .lua файл")
	}
	doc := ev.Reply.Document
	if !strings.EqualFold(filepath.Ext(doc.FileName), loader.Extension) {
		return m.reply(ctx, ev, "❌ Нужен файл с расширением .lua")
	}
	if doc.Size > m.deps.MaxDocumentBytes {
		return m.reply(ctx, ev, "❌ Файл слишком большой")
	}
	downloader, ok := m.deps.Transport.(module.FileDownloader)
	if !ok {
		return m.reply(ctx, ev, "❌ Транспорт не поддерживает загрузку файлов")
	}

	id, err := m.progress(ctx, ev, "⏳ Установка "+format.Code(doc.FileName)+"…")
	if err != nil {
		return err
	}
	m.installInBackground(ctx, ev, id, func(ctx context.Context) (*loader.Prepared, error) {
		data, err := downloader.DownloadFile(ctx, doc.FileID, m.deps.MaxDocumentBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errDownload, err)
		}
		return m.deps.Loader.PrepareBytes(ctx, doc.FileName, data)
	})
	return nil
}

func (m *Modules) installURL(ctx context.Context, ev *module.Event) error {
	rawURL := strings.TrimSpace(ev.Args)
	if rawURL == "" {
		return m.usage(ctx, ev, "dlm <url>")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return m.reply(ctx, ev, "❌ Ссылка должна начинаться с http:// или https://")
	}

	id, err := m.progress(ctx, ev, "⏳ Загрузка модуля…")
	if err != nil {
		return err
	}
	m.installInBackground(ctx, ev, id, func(ctx context.Context) (*loader.Prepared, error) {
		return m.deps.Loader.PrepareURL(ctx, rawURL)
	})
	return nil
}

// installInBackground скачивает модуль и ставит его зависимости вне общего
// цикла. Запись файла, загрузка и ответ выполняются обратно в цикле.
func (m *Modules) installInBackground(ctx context.Context, ev *module.Event, messageID int,
	prepare func(ctx context.Context) (*loader.Prepared, error)) {
	chatID, userID := ev.ChatID, ev.SenderID
	bg := context.WithoutCancel(ctx)

	go func() {
		prepared, prepErr := prepare(bg)
		err := m.deps.Loop.Submit(worker.Job{
			Name:   "module_install",
			Module: CoreModule,
			UserID: userID,
			Handler: func(ctx context.Context) error {
				if prepErr != nil {
					m.logger.Warn("Module install failed", zap.Error(prepErr))
					return m.deps.Transport.EditMessage(ctx, chatID, messageID, installFailedText(prepErr))
				}
				desc, err := m.deps.Loader.CommitInstall(ctx, prepared)
				if err != nil {
					m.logger.Warn("Module install failed", zap.String("module", prepared.Name), zap.Error(err))
					return m.deps.Transport.EditMessage(ctx, chatID, messageID, installFailedText(err))
				}
				return m.deps.Transport.EditMessage(ctx, chatID, messageID, m.installedText(desc))
			},
		})
		if err != nil {
			m.logger.Error("Failed to submit module install", zap.Error(err))
		}
	}()
}

func (m *Modules) uninstall(ctx context.Context, ev *module.Event) error {
	name := strings.TrimSpace(ev.Args)
	if name == "" {
		return m.usage(ctx, ev, "um <модуль>")
	}

	result, err := m.deps.Loader.Uninstall(ctx, name)
	switch {
	case errors.Is(err, module.ErrBuiltinModule):
		return m.reply(ctx, ev, "❌ Встроенный модуль нельзя удалить")
	case errors.Is(err, module.ErrModuleNotFound):
		return m.reply(ctx, ev, fmt.Sprintf("❌ Модуль %s не найден", format.Bold(name)))
	case err != nil:
		return fmt.Errorf("failed to uninstall %s: %w", name, err)
	case result.Deleted:
		return m.reply(ctx, ev, fmt.Sprintf("🗑 Модуль %s удалён", format.Bold(name)))
	default:
		return m.reply(ctx, ev, fmt.Sprintf("✅ Модуль %s выгружен", format.Bold(name)))
	}
}

func (m *Modules) reload(ctx context.Context, ev *module.Event) error {
	id, err := m.progress(ctx, ev, "🔄 Перезагрузка модулей…")
	if err != nil {
		return err
	}
	report, err := m.deps.Loader.Reload(ctx)
	if err != nil {
		return m.deps.Transport.EditMessage(ctx, ev.ChatID, id, "❌ "+format.Escape(err.Error()))
	}
	return m.deps.Transport.EditMessage(ctx, ev.ChatID, id, ReloadSummary(report, m.deps.Registry.Len()))
}

// ReloadSummary описывает итог перезагрузки каталога
func ReloadSummary(report loader.DirectoryReport, commands int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %d модулей | %d команд", report.Count(), commands)
	if len(report.Failed) > 0 {
		files := make([]string, 0, len(report.Failed))
		for file := range report.Failed {
			files = append(files, file)
		}
		sort.Strings(files)
		fmt.Fprintf(&b, "\n❌ Ошибки (%d):", len(files))
		for _, file := range files {
			fmt.Fprintf(&b, "\n• %s: %s", format.Code(file), format.Escape(format.Truncate(report.Failed[file].Error(), 200)))
		}
	}
	return b.String()
}

func (m *Modules) toggle(ctx context.Context, ev *module.Event) error {
	name := strings.TrimSpace(ev.Args)
	if name == "" {
		return m.usage(ctx, ev, "toggle <модуль>")
	}
	if name == CoreModule {
		return m.reply(ctx, ev, "❌ Модуль core нельзя отключить")
	}

	result, err := m.deps.Loader.Toggle(ctx, name)
	if errors.Is(err, module.ErrModuleNotFound) {
		return m.reply(ctx, ev, fmt.Sprintf("❌ Модуль %s не найден", format.Bold(name)))
	}
	if err != nil {
		return m.reply(ctx, ev, installFailedText(err))
	}
	return m.reply(ctx, ev, ToggleText(name, result))
}

// ToggleText описывает итог переключения модуля
func ToggleText(name string, result loader.ToggleResult) string {
	state := "🟢 Модуль %s включен"
	if result.Disabled {
		state = "🔴 Модуль %s отключен"
	}
	text := fmt.Sprintf(state, format.Bold(name))
	if !result.Applied {
		text += "\n♻️ Изменение вступит в силу после перезапуска"
	}
	return text
}
