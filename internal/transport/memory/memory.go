// Package memory реализует транспорт в памяти: сообщения складываются в журнал,
// события подаются вручную через Emit. Используется в тестах и для локального запуска.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kubot/internal/module"

	"github.com/google/uuid"
)

// ErrMessageNotFound сообщение с таким идентификатором не отправлялось
var ErrMessageNotFound = errors.New("message not found")

// Message сообщение в журнале транспорта
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
	Edits     int
	Deleted   bool
	Keyboard  module.Keyboard
}

type subscription struct {
	handle  module.Handle
	filter  module.EventFilter
	handler module.EventHandler
}

// Transport транспорт в памяти
type Transport struct {
	mu       sync.Mutex
	nextID   int
	messages []*Message
	subs     []subscription
	files    map[string][]byte
	chats    map[int64]module.ChatInfo
	users    map[int64]module.UserInfo
	cbs      []module.CallbackHandler
	answers  []string

	// SendErr если задан, возвращается из SendMessage
	SendErr error
}

var (
	_ module.Transport            = (*Transport)(nil)
	_ module.InteractiveTransport = (*Transport)(nil)
	_ module.FileDownloader       = (*Transport)(nil)
	_ module.Inspector            = (*Transport)(nil)
)

// New создает пустой транспорт
func New() *Transport {
	return &Transport{
		nextID: 1,
		files:  make(map[string][]byte),
		chats:  make(map[int64]module.ChatInfo),
		users:  make(map[int64]module.UserInfo),
	}
}

// SendMessage добавляет сообщение в журнал
func (t *Transport) SendMessage(_ context.Context, chatID int64, text string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return 0, t.SendErr
	}
	id := t.nextID
	t.nextID++
	t.messages = append(t.messages, &Message{ChatID: chatID, MessageID: id, Text: text})
	return id, nil
}

// EditMessage меняет текст сообщения из журнала
func (t *Transport) EditMessage(_ context.Context, chatID int64, messageID int, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := t.find(chatID, messageID)
	if msg == nil {
		// чужое сообщение, которого нет в журнале, считаем существующим
		msg = &Message{ChatID: chatID, MessageID: messageID}
		t.messages = append(t.messages, msg)
	}
	if msg.Deleted {
		return fmt.Errorf("edit %d: %w", messageID, ErrMessageNotFound)
	}
	msg.Text = text
	msg.Edits++
	msg.Keyboard = nil
	return nil
}

// DeleteMessage помечает сообщение удаленным
func (t *Transport) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := t.find(chatID, messageID)
	if msg == nil {
		msg = &Message{ChatID: chatID, MessageID: messageID}
		t.messages = append(t.messages, msg)
	}
	msg.Deleted = true
	return nil
}

func (t *Transport) find(chatID int64, messageID int) *Message {
	for _, m := range t.messages {
		if m.ChatID == chatID && m.MessageID == messageID {
			return m
		}
	}
	return nil
}

// On подписывает обработчик на события
func (t *Transport) On(filter module.EventFilter, handler module.EventHandler) module.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := module.Handle(uuid.NewString())
	t.subs = append(t.subs, subscription{handle: h, filter: filter, handler: handler})
	return h
}

// RemoveHandler снимает подписку
func (t *Transport) RemoveHandler(h module.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.handle == h {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Handlers количество активных подписок
func (t *Transport) Handlers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Emit передает событие всем подходящим подпискам в порядке подписки.
// Если у события нет MessageID, оно сначала попадает в журнал.
func (t *Transport) Emit(ctx context.Context, ev *module.Event) {
	t.mu.Lock()
	if ev.MessageID == 0 {
		ev.MessageID = t.nextID
		t.nextID++
		t.messages = append(t.messages, &Message{ChatID: ev.ChatID, MessageID: ev.MessageID, Text: ev.RawText})
	}
	matched := make([]module.EventHandler, 0, len(t.subs))
	for _, s := range t.subs {
		if s.filter.Match(ev) {
			matched = append(matched, s.handler)
		}
	}
	t.mu.Unlock()

	for _, handler := range matched {
		copyEv := *ev
		handler(ctx, &copyEv)
	}
}

// Messages копия журнала
func (t *Transport) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, *m)
	}
	return out
}

// Sent тексты отправленных и не удаленных сообщений в чат
func (t *Transport) Sent(chatID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, m := range t.messages {
		if m.ChatID == chatID && !m.Deleted {
			out = append(out, m.Text)
		}
	}
	return out
}

// Last последнее сообщение в журнале
func (t *Transport) Last() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return *t.messages[len(t.messages)-1], true
}

// Message сообщение по идентификатору
func (t *Transport) Message(chatID int64, messageID int) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.find(chatID, messageID); m != nil {
		return *m, true
	}
	return Message{}, false
}

// AddFile кладет вложение, доступное через DownloadFile
func (t *Transport) AddFile(fileID string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[fileID] = data
}

// DownloadFile возвращает вложение по идентификатору
func (t *Transport) DownloadFile(_ context.Context, fileID string, maxBytes int64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok := t.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrMessageNotFound)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file %s is %d bytes, limit %d", fileID, len(data), maxBytes)
	}
	return data, nil
}

// AddChat задает сведения о чате для ChatInfo
func (t *Transport) AddChat(info module.ChatInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chats[info.ID] = info
}

// AddUser задает сведения о пользователе для UserInfo
func (t *Transport) AddUser(info module.UserInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[info.ID] = info
}

// ChatInfo возвращает сведения, заданные через AddChat
func (t *Transport) ChatInfo(_ context.Context, chatID int64) (module.ChatInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.chats[chatID]
	if !ok {
		return module.ChatInfo{}, fmt.Errorf("chat %d not found", chatID)
	}
	return info, nil
}

// UserInfo возвращает сведения, заданные через AddUser
func (t *Transport) UserInfo(_ context.Context, _ int64, userID int64) (module.UserInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.users[userID]
	if !ok {
		return module.UserInfo{}, fmt.Errorf("user %d not found", userID)
	}
	return info, nil
}

// SendKeyboard отправляет сообщение с клавиатурой
func (t *Transport) SendKeyboard(ctx context.Context, chatID int64, text string, kb module.Keyboard) (int, error) {
	id, err := t.SendMessage(ctx, chatID, text)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.find(chatID, id).Keyboard = kb
	t.mu.Unlock()
	return id, nil
}

// EditKeyboard меняет текст и клавиатуру сообщения
func (t *Transport) EditKeyboard(ctx context.Context, chatID int64, messageID int, text string, kb module.Keyboard) error {
	if err := t.EditMessage(ctx, chatID, messageID, text); err != nil {
		return err
	}
	t.mu.Lock()
	t.find(chatID, messageID).Keyboard = kb
	t.mu.Unlock()
	return nil
}

// AnswerCallback запоминает ответ на нажатие
func (t *Transport) AnswerCallback(_ context.Context, callbackID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers = append(t.answers, callbackID+":"+text)
	return nil
}

// Answers ответы на нажатия в формате "id:text"
func (t *Transport) Answers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.answers...)
}

// OnCallback подписывает обработчик нажатий
func (t *Transport) OnCallback(handler module.CallbackHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cbs = append(t.cbs, handler)
}

// Press передает нажатие кнопки всем обработчикам
func (t *Transport) Press(ctx context.Context, cb *module.Callback) {
	t.mu.Lock()
	handlers := append([]module.CallbackHandler(nil), t.cbs...)
	t.mu.Unlock()
	for _, h := range handlers {
		copyCb := *cb
		h(ctx, &copyCb)
	}
}
