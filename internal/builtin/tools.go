package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"kubot/internal/format"
	"kubot/internal/module"
	"kubot/internal/worker"

	"github.com/casbin/govaluate"
	"go.uber.org/zap"
)

const (
	maxPurge        = 100
	purgeNoticeTTL  = 3 * time.Second
	searchLimit     = 10
	searchExcerpt   = 35
	chatAboutLength = 80
	calcAlphabet    = "0123456789+-*/().% "
)

// Tools возвращает дескриптор модуля tools
func (m *Modules) Tools() *module.Descriptor {
	desc := &module.Descriptor{
		Name:        ToolsModule,
		Description: "Мелкие служебные команды",
		Author:      "kubot",
		Version:     m.deps.Version,
	}
	desc.AddCommand(&module.Command{Name: "id", Handler: m.id, Description: "Идентификаторы чата и пользователя", Category: "утилиты"})
	desc.AddCommand(&module.Command{Name: "del", Handler: m.ownerOnly(m.del), Description: "Удалить сообщение (ответом)", Category: "утилиты"})
	desc.AddCommand(&module.Command{Name: "sd", Handler: m.selfDestruct, Description: "Самоудаляющееся сообщение", Usage: "sd <секунды> <текст>", Category: "утилиты"})
	desc.AddCommand(&module.Command{Name: "info", Handler: m.info, Description: "Сведения о пользователе", Usage: "info [id]", Category: "утилиты"})
	desc.AddCommand(&module.Command{Name: "chatinfo", Handler: m.chatInfo, Description: "Сведения о чате", Category: "утилиты"})
	desc.AddCommand(&module.Command{Name: "purge", Handler: m.ownerOnly(m.purge), Description: "Удалить сообщения начиная с отвеченного", Category: "утилиты"})
	desc.AddCommand(&module.Command{Name: "calc", Handler: m.calc, Description: "Калькулятор", Usage: "calc 2+2*2", Category: "утилиты"})
	desc.AddCommand(&module.Command{Name: "search", Handler: m.search, Description: "Поиск по недавним сообщениям чата", Usage: "search <текст>", Category: "утилиты"})
	return desc
}

func (m *Modules) id(ctx context.Context, ev *module.Event) error {
	lines := []string{
		"💬 Чат: " + format.Code(strconv.FormatInt(ev.ChatID, 10)),
		"👤 Вы: " + format.Code(strconv.FormatInt(ev.SenderID, 10)),
	}
	if ev.IsReply && ev.Reply != nil {
		lines = append(lines,
			"↩️ Автор ответа: "+format.Code(strconv.FormatInt(ev.Reply.SenderID, 10)),
			"✉️ Сообщение: "+format.Code(strconv.Itoa(ev.Reply.MessageID)))
	}
	return m.reply(ctx, ev, strings.Join(lines, "\n"))
}

func (m *Modules) del(ctx context.Context, ev *module.Event) error {
	if !ev.IsReply || ev.Reply == nil {
		return m.reply(ctx, ev, "ℹ️ Ответьте этой командой на сообщение")
	}
	if err := m.deps.Transport.DeleteMessage(ctx, ev.ChatID, ev.Reply.MessageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if err := m.deps.Transport.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
		m.logger.Debug("Failed to delete command message", zap.Int("message_id", ev.MessageID), zap.Error(err))
	}
	return nil
}

// selfDestruct отправляет сообщение и удаляет его по таймеру через общий цикл
func (m *Modules) selfDestruct(ctx context.Context, ev *module.Event) error {
	tokens, text := cutFields(ev.Args, 1)
	if len(tokens) == 0 || text == "" {
		return m.usage(ctx, ev, "sd <секунды> <текст>")
	}
	seconds, err := strconv.Atoi(tokens[0])
	if err != nil || seconds <= 0 {
		return m.reply(ctx, ev, "❌ Время должно быть положительным числом секунд")
	}
	delay := time.Duration(seconds) * time.Second
	if delay > maxSelfDestruct {
		return m.reply(ctx, ev, fmt.Sprintf("❌ Не больше %d секунд", int(maxSelfDestruct.Seconds())))
	}

	id, err := m.progress(ctx, ev, format.Escape(text))
	if err != nil {
		return err
	}
	m.deleteLater(ev.ChatID, id, delay)
	return nil
}

// deleteLater удаляет сообщение по таймеру через общий цикл
func (m *Modules) deleteLater(chatID int64, messageID int, delay time.Duration) {
	time.AfterFunc(delay, func() {
		err := m.deps.Loop.Submit(worker.Job{
			Name:   "self_destruct",
			Module: ToolsModule,
			Handler: func(ctx context.Context) error {
				return m.deps.Transport.DeleteMessage(ctx, chatID, messageID)
			},
		})
		if err != nil {
			m.logger.Warn("Failed to schedule message deletion", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	})
}

func (m *Modules) info(ctx context.Context, ev *module.Event) error {
	inspector, ok := m.deps.Transport.(module.Inspector)
	if !ok {
		return m.reply(ctx, ev, "❌ Транспорт не отдает сведения о пользователях")
	}

	userID := ev.SenderID
	switch arg := strings.TrimSpace(ev.Args); {
	case ev.IsReply && ev.Reply != nil && ev.Reply.SenderID != 0:
		userID = ev.Reply.SenderID
	case arg != "":
		parsed, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return m.reply(ctx, ev, "❌ Нужен числовой ID или ответ на сообщение")
		}
		userID = parsed
	}

	user, err := inspector.UserInfo(ctx, ev.ChatID, userID)
	if err != nil {
		m.logger.Debug("User lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return m.reply(ctx, ev, "❌ Пользователь не найден")
	}
	return m.reply(ctx, ev, UserInfoText(user))
}

// UserInfoText описывает пользователя
func UserInfoText(u module.UserInfo) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = "—"
	}
	username := "—"
	if u.Username != "" {
		username = "@" + u.Username
	}
	bot := "Нет"
	if u.IsBot {
		bot = "Да"
	}
	lines := []string{
		"👤 <b>Инфо</b>",
		"📛 " + format.Escape(name),
		"🆔 " + format.Code(strconv.FormatInt(u.ID, 10)),
		"📱 " + format.Escape(username),
		"🤖 Бот: " + bot,
	}
	if u.Bio != "" {
		lines = append(lines, "📝 <i>"+format.Escape(u.Bio)+"</i>")
	}
	return strings.Join(lines, "\n")
}

func (m *Modules) chatInfo(ctx context.Context, ev *module.Event) error {
	inspector, ok := m.deps.Transport.(module.Inspector)
	if !ok {
		return m.reply(ctx, ev, "❌ Транспорт не отдает сведения о чатах")
	}
	chat, err := inspector.ChatInfo(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("failed to get chat info: %w", err)
	}
	if chat.Private() {
		return m.reply(ctx, ev, "❌ Это не групповой чат")
	}
	return m.reply(ctx, ev, ChatInfoText(chat))
}

// ChatInfoText описывает групповой чат или канал
func ChatInfoText(c module.ChatInfo) string {
	lines := []string{
		"💬 " + format.Bold(c.Title),
		"🆔 " + format.Code(strconv.FormatInt(c.ID, 10)),
	}
	if c.Username != "" {
		lines = append(lines, "🔗 @"+format.Escape(c.Username))
	}
	if c.Members > 0 {
		lines = append(lines, fmt.Sprintf("👥 %d", c.Members))
	}
	if c.Description != "" {
		lines = append(lines, "📝 <i>"+format.Escape(format.Truncate(c.Description, chatAboutLength))+"</i>")
	}
	switch c.Type {
	case "channel":
		lines = append(lines, "📢 Канал")
	case "supergroup":
		lines = append(lines, "📢 Супергруппа")
	default:
		lines = append(lines, "📢 Группа")
	}
	return strings.Join(lines, "\n")
}

// purge удаляет сообщения от отвеченного до команды включительно. Удаление
// идет вне общего цикла, итог показывается ненадолго.
func (m *Modules) purge(ctx context.Context, ev *module.Event) error {
	if !ev.IsReply || ev.Reply == nil {
		return m.reply(ctx, ev, "ℹ️ Ответьте этой командой на первое удаляемое сообщение")
	}
	from, to := ev.Reply.MessageID, ev.MessageID
	if from <= 0 || to <= from {
		return m.reply(ctx, ev, "❌ Нечего удалять")
	}
	if to-from > maxPurge {
		from = to - maxPurge
	}

	chatID := ev.ChatID
	bg := context.WithoutCancel(ctx)
	go func() {
		var removed []int
		for id := from; id < to; id++ {
			if err := m.deps.Transport.DeleteMessage(bg, chatID, id); err != nil {
				m.logger.Debug("Failed to purge message", zap.Int64("chat_id", chatID), zap.Int("message_id", id), zap.Error(err))
				continue
			}
			removed = append(removed, id)
		}
		count := len(removed)
		if err := m.deps.Transport.DeleteMessage(bg, chatID, to); err != nil {
			m.logger.Debug("Failed to delete command message", zap.Int("message_id", to), zap.Error(err))
		} else {
			removed = append(removed, to)
		}
		m.history.Forget(chatID, removed...)

		err := m.deps.Loop.Submit(worker.Job{
			Name:   "purge_done",
			Module: ToolsModule,
			Handler: func(ctx context.Context) error {
				id, err := m.deps.Transport.SendMessage(ctx, chatID, fmt.Sprintf("🗑 Удалено сообщений: %d", count))
				if err != nil {
					return err
				}
				m.deleteLater(chatID, id, purgeNoticeTTL)
				return nil
			},
		})
		if err != nil {
			m.logger.Warn("Failed to submit purge result", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}()
	return nil
}

var errDivisionByZero = errors.New("деление на ноль")

// Calculate вычисляет арифметическое выражение. Допустимы только цифры,
// скобки, пробелы и операторы + - * / %.
func Calculate(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", errors.New("пустое выражение")
	}
	for _, r := range expr {
		if !strings.ContainsRune(calcAlphabet, r) {
			return "", fmt.Errorf("недопустимый символ %q", r)
		}
	}

	parsed, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return "", fmt.Errorf("не удалось разобрать выражение: %w", err)
	}
	value, err := parsed.Evaluate(nil)
	if err != nil {
		return "", fmt.Errorf("не удалось вычислить: %w", err)
	}
	number, ok := value.(float64)
	if !ok {
		return "", fmt.Errorf("результат не число: %v", value)
	}
	if math.IsInf(number, 0) || math.IsNaN(number) {
		return "", errDivisionByZero
	}
	return strconv.FormatFloat(number, 'g', 15, 64), nil
}

func (m *Modules) calc(ctx context.Context, ev *module.Event) error {
	expr := strings.TrimSpace(ev.Args)
	if expr == "" {
		return m.usage(ctx, ev, "calc 2+2*2")
	}
	result, err := Calculate(expr)
	if err != nil {
		return m.reply(ctx, ev, "❌ "+format.Escape(err.Error()))
	}
	return m.reply(ctx, ev, fmt.Sprintf("🔢 %s = %s", format.Code(expr), format.Bold(result)))
}

func (m *Modules) search(ctx context.Context, ev *module.Event) error {
	query := strings.TrimSpace(ev.Args)
	if query == "" {
		return m.usage(ctx, ev, "search <текст>")
	}

	prefix := m.deps.Store.Prefix()
	found := m.history.Search(ev.ChatID, query, searchLimit, func(e HistoryEntry) bool {
		return e.MessageID == ev.MessageID || strings.HasPrefix(e.Text, prefix)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 %s\n━━━━━━━━━━━━━━━━━━━━━\n", format.Code(query))
	if len(found) == 0 {
		b.WriteString("\nНичего не найдено")
	}
	for _, e := range found {
		text := strings.ReplaceAll(e.Text, "\n", " ")
		fmt.Fprintf(&b, "\n%s %s: <i>%s</i>",
			format.Code(strconv.Itoa(e.MessageID)),
			format.Code(strconv.FormatInt(e.SenderID, 10)),
			format.Escape(format.Truncate(text, searchExcerpt)))
	}
	return m.reply(ctx, ev, truncateHTML(b.String()))
}
