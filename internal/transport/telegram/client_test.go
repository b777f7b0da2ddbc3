package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"kubot/internal/module"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBot struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	fileURL  string
	nextID   int
	chats    map[int64]tgbotapi.Chat
	members  map[int64]*tgbotapi.User
	count    int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) GetFileDirectURL(string) (string, error) {
	return f.fileURL, nil
}

func (f *fakeBot) GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	chat, ok := f.chats[config.ChatID]
	if !ok {
		return tgbotapi.Chat{}, errors.New("Bad Request: chat not found")
	}
	return chat, nil
}

func (f *fakeBot) GetChatMembersCount(tgbotapi.ChatMemberCountConfig) (int, error) {
	return f.count, nil
}

func (f *fakeBot) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	user, ok := f.members[config.UserID]
	if !ok {
		return tgbotapi.ChatMember{}, errors.New("Bad Request: user not found")
	}
	return tgbotapi.ChatMember{User: user, Status: "member"}, nil
}

func message(chatID, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: userID},
		Text:      text,
	}
}

func TestEventFromMessage(t *testing.T) {
	msg := message(1, 2, "")
	msg.Caption = "caption text"
	msg.Document = &tgbotapi.Document{FileID: "f1", FileName: "mod.lua", FileSize: 12}
	msg.ReplyToMessage = &tgbotapi.Message{
		MessageID: 5,
		Chat:      &tgbotapi.Chat{ID: 1},
		From:      &tgbotapi.User{ID: 99},
		Text:      "original",
	}

	ev := EventFromMessage(msg, 99)
	assert.Equal(t, int64(1), ev.ChatID)
	assert.Equal(t, int64(2), ev.SenderID)
	assert.Equal(t, "caption text", ev.RawText)
	assert.False(t, ev.Outgoing)
	require.NotNil(t, ev.Document)
	assert.Equal(t, "mod.lua", ev.Document.FileName)
	assert.True(t, ev.IsReply)
	require.NotNil(t, ev.Reply)
	assert.Equal(t, "original", ev.Reply.Text)
	assert.Equal(t, int64(99), ev.Reply.SenderID)

	own := EventFromMessage(message(1, 99, "mine"), 99)
	assert.True(t, own.Outgoing)
}

func TestHandleUpdate_RoutesMessagesBySubscription(t *testing.T) {
	c := NewWithAPI(&fakeBot{}, zap.NewNop())

	var all, pings []string
	c.On(module.EventFilter{}, func(_ context.Context, ev *module.Event) { all = append(all, ev.RawText) })
	h := c.On(module.EventFilter{Pattern: regexp.MustCompile(`^\.ping`)}, func(_ context.Context, ev *module.Event) {
		pings = append(pings, ev.RawText)
	})

	c.HandleUpdate(context.Background(), tgbotapi.Update{Message: message(1, 2, ".ping")})
	c.HandleUpdate(context.Background(), tgbotapi.Update{Message: message(1, 2, "hello")})

	assert.Equal(t, []string{".ping", "hello"}, all)
	assert.Equal(t, []string{".ping"}, pings)

	assert.True(t, c.RemoveHandler(h))
	assert.False(t, c.RemoveHandler(h))
}

func TestHandleUpdate_Callbacks(t *testing.T) {
	c := NewWithAPI(&fakeBot{}, zap.NewNop())

	var got *module.Callback
	c.OnCallback(func(_ context.Context, cb *module.Callback) { got = cb })

	c.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 3},
		Message: message(4, 5, "menu"),
		Data:    "panel:modules",
	}})

	require.NotNil(t, got)
	assert.Equal(t, "cb1", got.ID)
	assert.Equal(t, int64(3), got.SenderID)
	assert.Equal(t, int64(4), got.ChatID)
	assert.Equal(t, "panel:modules", got.Data)
}

func TestHandleUpdate_RecoversFromPanics(t *testing.T) {
	c := NewWithAPI(&fakeBot{}, zap.NewNop())
	c.On(module.EventFilter{}, func(context.Context, *module.Event) { panic("bad handler") })

	assert.NotPanics(t, func() {
		c.HandleUpdate(context.Background(), tgbotapi.Update{Message: message(1, 2, "x")})
	})
}

func TestSendEditDelete(t *testing.T) {
	bot := &fakeBot{}
	c := NewWithAPI(bot, zap.NewNop())
	ctx := context.Background()

	id, err := c.SendMessage(ctx, 1, "<b>hi</b>")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.NoError(t, c.EditMessage(ctx, 1, id, "edited"))
	require.NoError(t, c.DeleteMessage(ctx, 1, id))
	require.NoError(t, c.AnswerCallback(ctx, "cb", "ok"))

	require.Len(t, bot.sent, 2)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)

	edit, ok := bot.sent[1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, "edited", edit.Text)

	require.Len(t, bot.requests, 2)
	_, ok = bot.requests[0].(tgbotapi.DeleteMessageConfig)
	assert.True(t, ok)
}

func TestChatAndUserInfo(t *testing.T) {
	bot := &fakeBot{
		chats: map[int64]tgbotapi.Chat{
			-100: {ID: -100, Type: "supergroup", Title: "Lua", UserName: "luachat", Description: "about"},
			7:    {ID: 7, Type: "private", Bio: "gopher"},
		},
		members: map[int64]*tgbotapi.User{7: {ID: 7, FirstName: "Ann", UserName: "ann"}},
		count:   42,
	}
	c := NewWithAPI(bot, zap.NewNop())
	ctx := context.Background()

	chat, err := c.ChatInfo(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, module.ChatInfo{ID: -100, Type: "supergroup", Title: "Lua", Username: "luachat", Description: "about", Members: 42}, chat)

	private, err := c.ChatInfo(ctx, 7)
	require.NoError(t, err)
	assert.True(t, private.Private())
	assert.Zero(t, private.Members)

	user, err := c.UserInfo(ctx, -100, 7)
	require.NoError(t, err)
	assert.Equal(t, module.UserInfo{ID: 7, FirstName: "Ann", Username: "ann", Bio: "gopher"}, user)

	_, err = c.UserInfo(ctx, -100, 8)
	assert.Error(t, err)
	_, err = c.ChatInfo(ctx, 1)
	assert.Error(t, err)
}

func TestInlineKeyboard(t *testing.T) {
	kb := module.Keyboard{
		module.Row(module.Button{Text: "A", Data: "a"}, module.Button{Text: "B", Data: "b"}),
		module.Row(module.Button{Text: "C", Data: "c"}),
	}
	markup := InlineKeyboard(kb)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Equal(t, "B", markup.InlineKeyboard[0][1].Text)
	require.NotNil(t, markup.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "c", *markup.InlineKeyboard[1][0].CallbackData)
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("function setup(ctx) end"))
	}))
	defer srv.Close()

	c := NewWithAPI(&fakeBot{fileURL: srv.URL}, zap.NewNop())

	data, err := c.DownloadFile(context.Background(), "f1", 1024)
	require.NoError(t, err)
	assert.Equal(t, "function setup(ctx) end", string(data))

	_, err = c.DownloadFile(context.Background(), "f1", 4)
	assert.ErrorIs(t, err, module.ErrPayloadTooLarge)
}
