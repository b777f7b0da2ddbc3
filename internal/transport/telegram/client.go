// Package telegram реализует транспорт поверх Telegram Bot API: long polling,
// подписки на текстовые события, встроенные клавиатуры и загрузку вложений.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"kubot/internal/module"

	"github.com/google/uuid"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type subscription struct {
	handle  module.Handle
	filter  module.EventFilter
	handler module.EventHandler
}

// Client транспорт Telegram
type Client struct {
	bot    BotAPI
	self   tgbotapi.User
	http   *http.Client
	logger *zap.Logger

	mu        sync.RWMutex
	subs      []subscription
	callbacks []module.CallbackHandler
}

var (
	_ module.InteractiveTransport = (*Client)(nil)
	_ module.FileDownloader       = (*Client)(nil)
	_ module.Inspector            = (*Client)(nil)
)

// NewClient подключается к Bot API
func NewClient(botToken string, logger *zap.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	bot.Debug = false
	logger.Info("Telegram bot created", zap.String("username", bot.Self.UserName))

	c := NewWithAPI(bot, logger)
	c.self = bot.Self
	return c, nil
}

// NewWithAPI создает транспорт поверх готового клиента API
func NewWithAPI(bot BotAPI, logger *zap.Logger) *Client {
	return &Client{
		bot:    bot,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// Username имя бота
func (c *Client) Username() string {
	return c.self.UserName
}

// Run читает обновления до отмены контекста
func (c *Client) Run(ctx context.Context) error {
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		c.logger.Error("Failed to delete webhook", zap.Error(err))
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "edited_message", "callback_query"}

	c.logger.Info("Starting to fetch updates")
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	reconnectDelay := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Update loop cancelled by context")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				c.logger.Warn("Update channel closed, will try to reconnect after delay")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectDelay):
					return errors.New("update channel closed")
				}
			}
			c.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate разбирает одно обновление и передает его подписчикам
func (c *Client) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in update handler",
				zap.Int("update_id", update.UpdateID),
				zap.Any("panic", r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		c.handleMessage(ctx, update.EditedMessage)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	ev := EventFromMessage(msg, c.self.ID)

	c.logger.Debug("Received message",
		zap.Int64("chat_id", ev.ChatID),
		zap.Int64("user_id", ev.SenderID),
		zap.Int("message_id", ev.MessageID),
		zap.Bool("is_reply", ev.IsReply))

	c.mu.RLock()
	matched := make([]module.EventHandler, 0, len(c.subs))
	for _, s := range c.subs {
		if s.filter.Match(ev) {
			matched = append(matched, s.handler)
		}
	}
	c.mu.RUnlock()

	for _, handler := range matched {
		copyEv := *ev
		handler(ctx, &copyEv)
	}
}

func (c *Client) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	cb := &module.Callback{
		ID:   q.ID,
		Data: q.Data,
	}
	if q.From != nil {
		cb.SenderID = q.From.ID
	}
	if q.Message != nil {
		cb.ChatID = q.Message.Chat.ID
		cb.MessageID = q.Message.MessageID
	}

	c.logger.Debug("Received callback",
		zap.String("data", cb.Data),
		zap.Int64("chat_id", cb.ChatID),
		zap.Int64("user_id", cb.SenderID))

	c.mu.RLock()
	handlers := append([]module.CallbackHandler(nil), c.callbacks...)
	c.mu.RUnlock()

	for _, h := range handlers {
		copyCb := *cb
		h(ctx, &copyCb)
	}
}

// EventFromMessage переводит сообщение Telegram в событие транспорта
func EventFromMessage(msg *tgbotapi.Message, selfID int64) *module.Event {
	ev := &module.Event{
		MessageID: msg.MessageID,
		RawText:   messageText(msg),
		Document:  documentOf(msg),
	}
	if msg.Chat != nil {
		ev.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		ev.SenderID = msg.From.ID
		ev.Outgoing = selfID != 0 && msg.From.ID == selfID
	}
	if r := msg.ReplyToMessage; r != nil {
		ev.IsReply = true
		ev.Reply = &module.Message{
			MessageID: r.MessageID,
			Text:      messageText(r),
			Document:  documentOf(r),
		}
		if r.Chat != nil {
			ev.Reply.ChatID = r.Chat.ID
		}
		if r.From != nil {
			ev.Reply.SenderID = r.From.ID
		}
	}
	return ev
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func documentOf(msg *tgbotapi.Message) *module.Document {
	if msg.Document == nil {
		return nil
	}
	return &module.Document{
		FileID:   msg.Document.FileID,
		FileName: msg.Document.FileName,
		Size:     int64(msg.Document.FileSize),
	}
}

// On подписывает обработчик на текстовые события
func (c *Client) On(filter module.EventFilter, handler module.EventHandler) module.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := module.Handle(uuid.NewString())
	c.subs = append(c.subs, subscription{handle: h, filter: filter, handler: handler})
	return h
}

// RemoveHandler снимает подписку
func (c *Client) RemoveHandler(h module.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.handle == h {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return true
		}
	}
	return false
}

// OnCallback подписывает обработчик нажатий кнопок
func (c *Client) OnCallback(handler module.CallbackHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, handler)
}

// SendMessage отправляет сообщение в режиме HTML
func (c *Client) SendMessage(_ context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return sent.MessageID, nil
}

// EditMessage редактирует сообщение
func (c *Client) EditMessage(_ context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// DeleteMessage удаляет сообщение
func (c *Client) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SendKeyboard отправляет сообщение с клавиатурой
func (c *Client) SendKeyboard(_ context.Context, chatID int64, text string, kb module.Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if len(kb) > 0 {
		msg.ReplyMarkup = InlineKeyboard(kb)
	}

	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send message with keyboard: %w", err)
	}
	return sent.MessageID, nil
}

// EditKeyboard редактирует сообщение вместе с клавиатурой
func (c *Client) EditKeyboard(_ context.Context, chatID int64, messageID int, text string, kb module.Keyboard) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if len(kb) > 0 {
		markup := InlineKeyboard(kb)
		edit.ReplyMarkup = &markup
	}

	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("failed to edit message with keyboard: %w", err)
	}
	return nil
}

// AnswerCallback отвечает на нажатие кнопки
func (c *Client) AnswerCallback(_ context.Context, callbackID, text string) error {
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

// InlineKeyboard переводит клавиатуру в разметку Telegram
func InlineKeyboard(kb module.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ChatInfo запрашивает сведения о чате. Число участников необязательно:
// ошибка его запроса только пишется в лог.
func (c *Client) ChatInfo(_ context.Context, chatID int64) (module.ChatInfo, error) {
	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return module.ChatInfo{}, fmt.Errorf("failed to get chat: %w", err)
	}
	info := module.ChatInfo{
		ID:          chat.ID,
		Type:        chat.Type,
		Title:       chat.Title,
		Username:    chat.UserName,
		Description: chat.Description,
	}
	if chat.IsPrivate() {
		return info, nil
	}
	count, err := c.bot.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		c.logger.Debug("Failed to get chat members count", zap.Int64("chat_id", chatID), zap.Error(err))
	} else {
		info.Members = count
	}
	return info, nil
}

// UserInfo запрашивает участника чата; био берется из личного профиля, если он доступен
func (c *Client) UserInfo(_ context.Context, chatID, userID int64) (module.UserInfo, error) {
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return module.UserInfo{}, fmt.Errorf("failed to get chat member: %w", err)
	}
	if member.User == nil {
		return module.UserInfo{}, fmt.Errorf("user %d not found", userID)
	}
	info := module.UserInfo{
		ID:        member.User.ID,
		FirstName: member.User.FirstName,
		LastName:  member.User.LastName,
		Username:  member.User.UserName,
		IsBot:     member.User.IsBot,
	}
	if profile, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: userID}}); err == nil {
		info.Bio = profile.Bio
	}
	return info, nil
}

// DownloadFile скачивает вложение с ограничением размера
func (c *Client) DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	link, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: HTTP %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: file is larger than %d bytes", module.ErrPayloadTooLarge, maxBytes)
	}
	return data, nil
}
