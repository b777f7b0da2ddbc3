package builtin

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"kubot/internal/format"
	"kubot/internal/module"
	"kubot/internal/settings"

	"go.uber.org/zap"
)

const (
	brandName          = "kubot"
	customLinesHolder  = "{custom_lines}"
	customLineMarker   = "├ "
	tokenVisibleSuffix = 4
)

var botTokenPattern = regexp.MustCompile(`^\d{5,}:[A-Za-z0-9_-]{30,}$`)

// RenderCard подставляет значения в шаблон карточки. Строки с подстановками
// скрытых полей выбрасываются, строка {custom_lines} заменяется своими
// строками владельца.
func RenderCard(card settings.InfoCard, values map[string]string) string {
	var hidden []string
	for _, field := range settings.InfoFields {
		if !card.Shown(field.Name) {
			hidden = append(hidden, field.Placeholders...)
		}
	}

	var lines []string
	for _, line := range strings.Split(card.Template, "\n") {
		if strings.TrimSpace(line) == customLinesHolder {
			for _, custom := range card.CustomLines {
				lines = append(lines, customLineMarker+custom)
			}
			continue
		}
		if containsAny(line, hidden) {
			continue
		}
		lines = append(lines, line)
	}
	return fillTemplate(strings.Join(lines, "\n"), values)
}

func fillTemplate(text string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, key, value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// cardValues значения подстановок карточки и ответа alive
func (m *Modules) cardValues(ctx context.Context, emoji string, latency time.Duration) map[string]string {
	active, builtin := m.deps.Loader.Stats()
	version := m.deps.Version
	if version == "" {
		version = "dev"
	}
	custom := strings.Join(m.deps.Store.InfoCard().CustomLines, "\n"+customLineMarker)
	if custom != "" {
		custom = customLineMarker + custom
	}
	return map[string]string{
		"{emoji}":        emoji,
		"{brand}":        brandName,
		"{version}":      format.Escape(version),
		"{owner}":        m.ownerLink(ctx),
		"{ping}":         strconv.FormatInt(latency.Milliseconds(), 10),
		"{uptime}":       m.uptime(),
		"{modules}":      strconv.Itoa(active),
		"{builtin}":      strconv.Itoa(builtin),
		"{user_mods}":    strconv.Itoa(active - builtin),
		"{commands}":     strconv.Itoa(m.deps.Registry.Len()),
		"{prefix}":       format.Escape(m.deps.Store.Prefix()),
		"{go}":           format.Escape(runtime.Version()),
		"{os}":           runtime.GOOS + "/" + runtime.GOARCH,
		"{custom_lines}": custom,
	}
}

// ownerLink ссылка на владельца; имя берется у транспорта, если он умеет
func (m *Modules) ownerLink(ctx context.Context) string {
	id := m.deps.Store.OwnerID()
	if id == 0 {
		return "—"
	}
	name := "владелец"
	if inspector, ok := m.deps.Transport.(module.Inspector); ok {
		if user, err := inspector.UserInfo(ctx, id, id); err == nil {
			if full := strings.TrimSpace(user.FirstName + " " + user.LastName); full != "" {
				name = full
			}
		} else {
			m.logger.Debug("Owner lookup failed", zap.Int64("owner_id", id), zap.Error(err))
		}
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, id, format.Escape(name))
}

func (m *Modules) kinfo(ctx context.Context, ev *module.Event) error {
	start := time.Now()
	id, err := m.progress(ctx, ev, "⏳")
	if err != nil {
		return err
	}
	latency := time.Since(start)
	card := m.deps.Store.InfoCard()
	text := RenderCard(card, m.cardValues(ctx, card.Emoji, latency))
	return m.deps.Transport.EditMessage(ctx, ev.ChatID, id, truncateHTML(text))
}

func (m *Modules) alive(ctx context.Context, ev *module.Event) error {
	emoji := m.deps.Store.InfoCard().Emoji
	return m.reply(ctx, ev, fillTemplate(m.deps.Store.AliveMessage(), m.cardValues(ctx, emoji, 0)))
}

const ksetUsage = "kset emoji|template|show|addline|clearlines|alive|reset"

// kset настраивает карточку kinfo и ответ alive
func (m *Modules) kset(ctx context.Context, ev *module.Event) error {
	head, rest := cutFields(ev.Args, 1)
	sub := ""
	if len(head) == 1 {
		sub = strings.ToLower(head[0])
	}
	store := m.deps.Store

	switch sub {
	case "":
		return m.reply(ctx, ev, m.ksetOverview())
	case "emoji":
		emoji, err := store.SetInfoEmoji(rest)
		if err != nil {
			return m.usage(ctx, ev, "kset emoji <эмодзи>")
		}
		return m.reply(ctx, ev, "✅ Эмодзи: "+emoji)
	case "template":
		if strings.TrimSpace(rest) == "" {
			return m.reply(ctx, ev, "📝 Текущий шаблон:\n"+format.Code(store.InfoCard().Template))
		}
		if err := store.SetInfoTemplate(rest); err != nil {
			return err
		}
		return m.reply(ctx, ev, "✅ Шаблон обновлен")
	case "show":
		args := strings.Fields(rest)
		if len(args) != 2 {
			return m.usage(ctx, ev, "kset show <поле> on|off")
		}
		var shown bool
		switch strings.ToLower(args[1]) {
		case "on", "вкл", "1", "true":
			shown = true
		case "off", "выкл", "0", "false":
		default:
			return m.usage(ctx, ev, "kset show <поле> on|off")
		}
		if err := store.SetInfoField(strings.ToLower(args[0]), shown); err != nil {
			return m.reply(ctx, ev, fmt.Sprintf("❌ Неизвестное поле %s", format.Code(args[0])))
		}
		state := "скрыто"
		if shown {
			state = "показано"
		}
		return m.reply(ctx, ev, fmt.Sprintf("✅ Поле %s %s", format.Code(strings.ToLower(args[0])), state))
	case "addline":
		count, err := store.AddInfoLine(rest)
		if err != nil {
			return m.usage(ctx, ev, "kset addline <текст>")
		}
		return m.reply(ctx, ev, fmt.Sprintf("✅ Строка добавлена, всего своих строк: %d", count))
	case "clearlines":
		if err := store.ClearInfoLines(); err != nil {
			return err
		}
		return m.reply(ctx, ev, "✅ Свои строки удалены")
	case "alive":
		text := strings.TrimSpace(rest)
		if text == "" {
			return m.reply(ctx, ev, "📝 Текущий ответ alive:\n"+format.Code(store.AliveMessage()))
		}
		if text == "reset" {
			text = ""
		}
		if err := store.SetAliveMessage(text); err != nil {
			return err
		}
		return m.reply(ctx, ev, "✅ Ответ alive обновлен")
	case "reset":
		if err := store.ResetInfoCard(); err != nil {
			return err
		}
		return m.reply(ctx, ev, "✅ Карточка сброшена")
	default:
		return m.usage(ctx, ev, ksetUsage)
	}
}

func (m *Modules) ksetOverview() string {
	card := m.deps.Store.InfoCard()
	var b strings.Builder
	b.WriteString("🎨 <b>Настройка kinfo</b>\n")
	fmt.Fprintf(&b, "Эмодзи: %s\n", card.Emoji)
	fmt.Fprintf(&b, "Своих строк: %d\n\n", len(card.CustomLines))
	for _, field := range settings.InfoFields {
		mark := "🔴"
		if card.Shown(field.Name) {
			mark = "🟢"
		}
		fmt.Fprintf(&b, "%s %s %s\n", mark, format.Code(field.Name), field.Label)
	}
	fmt.Fprintf(&b, "\n%s", format.Code(ksetUsage))
	return b.String()
}

// settoken меняет токен бота. Новый токен применяется после перезапуска.
func (m *Modules) settoken(ctx context.Context, ev *module.Event) error {
	token := strings.TrimSpace(ev.Args)
	switch token {
	case "":
		current := m.deps.Store.BotToken()
		if current == "" {
			return m.reply(ctx, ev, "🔑 Токен в настройках не задан")
		}
		return m.reply(ctx, ev, "🔑 Токен: "+format.Code(MaskToken(current)))
	case "remove":
		if err := m.deps.Store.SetBotToken(""); err != nil {
			return err
		}
		return m.reply(ctx, ev, "✅ Токен удален из настроек")
	}

	if !botTokenPattern.MatchString(token) {
		return m.reply(ctx, ev, "❌ Это не похоже на токен бота")
	}
	if err := m.deps.Store.SetBotToken(token); err != nil {
		return err
	}
	// токен не должен оставаться в чате
	if ev.MessageID != 0 {
		if err := m.deps.Transport.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
			m.logger.Debug("Failed to delete token message", zap.Error(err))
		}
	}
	m.logger.Info("Bot token updated", zap.Int64("sender_id", ev.SenderID))
	_, err := m.deps.Transport.SendMessage(ctx, ev.ChatID, "✅ Токен сохранен, он будет использован после перезапуска, если не задан BOT_TOKEN")
	return err
}

// MaskToken оставляет видимыми только последние символы токена
func MaskToken(token string) string {
	if len(token) <= tokenVisibleSuffix {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-tokenVisibleSuffix:]
}
