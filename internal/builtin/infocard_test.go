package builtin

import (
	"fmt"
	"strings"
	"testing"

	"kubot/internal/module"
	"kubot/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCard(t *testing.T) {
	values := map[string]string{"{emoji}": "🚀", "{ping}": "12", "{uptime}": "5с", "{custom_lines}": ""}

	t.Run("all fields shown", func(t *testing.T) {
		card := settings.DefaultInfoCard()
		card.Template = "{emoji} card\n├ ping {ping}\n{custom_lines}\n└ up {uptime}"
		assert.Equal(t, "🚀 card\n├ ping 12\n└ up 5с", RenderCard(card, values))
	})

	t.Run("hidden field drops its line", func(t *testing.T) {
		card := settings.DefaultInfoCard()
		card.Template = "{emoji} card\n├ ping {ping}\n└ up {uptime}"
		card.ShowPing = false
		assert.Equal(t, "🚀 card\n└ up 5с", RenderCard(card, values))
	})

	t.Run("custom lines replace placeholder line", func(t *testing.T) {
		card := settings.DefaultInfoCard()
		card.Template = "head\n  {custom_lines}  \ntail"
		card.CustomLines = []string{"one", "<b>two</b>"}
		assert.Equal(t, "head\n├ one\n├ <b>two</b>\ntail", RenderCard(card, values))
	})
}

func TestKinfo(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetOwnerID(ownerID))
	f.transport.AddUser(module.UserInfo{ID: ownerID, FirstName: "Ann"})

	out := f.send(t, strangerID, ".kinfo")
	assert.True(t, strings.HasPrefix(out, "🤖 <b>kubot</b> vtest"), out)
	assert.Contains(t, out, fmt.Sprintf(`<a href="tg://user?id=%d">Ann</a>`, ownerID))
	assert.Contains(t, out, "Модулей: 2 (🔵2 🟢0)")
	assert.Contains(t, out, "Префикс: .")
	assert.Contains(t, out, "Пинг: ")
	assert.Contains(t, out, "\n└ 💻 ")
	assert.NotContains(t, out, "{")
	last, _ := f.transport.Last()
	assert.Equal(t, 1, last.Edits)
}

func TestKset(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "🔒 Только для владельца", f.send(t, strangerID, ".kset emoji 🚀"))

	out := f.send(t, ownerID, ".kset")
	assert.Contains(t, out, "🟢 <code>ping</code>")

	assert.Contains(t, f.send(t, ownerID, ".kset emoji 🚀"), "🚀")
	assert.Contains(t, f.send(t, ownerID, ".kset show ping off"), "скрыто")
	assert.Contains(t, f.send(t, ownerID, ".kset show owner off"), "скрыто")
	assert.Contains(t, f.send(t, ownerID, ".kset show nope off"), "Неизвестное поле")
	assert.Contains(t, f.send(t, ownerID, ".kset addline Сервер: дом"), "всего своих строк: 1")
	assert.Contains(t, f.send(t, ownerID, ".kset"), "🔴 <code>ping</code>")

	out = f.send(t, strangerID, ".kinfo")
	assert.True(t, strings.HasPrefix(out, "🚀 "), out)
	assert.NotContains(t, out, "Пинг")
	assert.NotContains(t, out, "Владелец")
	assert.Contains(t, out, "├ Сервер: дом")

	card := f.store.InfoCard()
	assert.False(t, card.ShowPing)
	assert.Equal(t, []string{"Сервер: дом"}, card.CustomLines)

	assert.Contains(t, f.send(t, ownerID, ".kset template {emoji} только {brand}"), "обновлен")
	assert.Equal(t, "🚀 только kubot", f.send(t, strangerID, ".kinfo"))

	assert.Contains(t, f.send(t, ownerID, ".kset reset"), "сброшена")
	out = f.send(t, strangerID, ".kinfo")
	assert.Contains(t, out, "Пинг")
	assert.NotContains(t, out, "Сервер: дом")

	assert.Contains(t, f.send(t, ownerID, ".kset unknown"), "kset emoji|template")
}

func TestAliveMessage(t *testing.T) {
	f := newFixture(t)

	out := f.send(t, strangerID, ".alive")
	assert.Contains(t, out, "<b>kubot</b> работает!")
	assert.Contains(t, out, "Модулей: 2")

	assert.Contains(t, f.send(t, ownerID, ".kset alive Жив, модулей {modules}"), "обновлен")
	assert.Equal(t, "Жив, модулей 2", f.send(t, strangerID, ".alive"))
	assert.Equal(t, "Жив, модулей {modules}", f.store.AliveMessage())

	f.send(t, ownerID, ".kset alive reset")
	assert.Equal(t, settings.DefaultAliveMessage, f.store.AliveMessage())
}

func TestSettoken(t *testing.T) {
	f := newFixture(t)
	token := "123456789:" + strings.Repeat("A", 30) + "wxyz"

	assert.Equal(t, "🔒 Только для владельца", f.send(t, strangerID, ".settoken "+token))
	assert.Contains(t, f.send(t, ownerID, ".settoken"), "не задан")
	assert.Contains(t, f.send(t, ownerID, ".settoken nonsense"), "не похоже")
	assert.Empty(t, f.store.BotToken())

	ev := &module.Event{ChatID: chatID, SenderID: ownerID, RawText: ".settoken " + token}
	assert.Contains(t, f.sendEvent(t, ev), "Токен сохранен")
	assert.Equal(t, token, f.store.BotToken())
	msg, _ := f.transport.Message(chatID, ev.MessageID)
	assert.True(t, msg.Deleted, "message with the token must be deleted")

	out := f.send(t, ownerID, ".settoken")
	assert.Contains(t, out, "********wxyz")
	assert.NotContains(t, out, "123456789")

	assert.Contains(t, f.send(t, ownerID, ".settoken remove"), "удален")
	assert.Empty(t, f.store.BotToken())
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***", MaskToken("abc"))
	assert.Equal(t, "********5678", MaskToken("12345678"))
}
