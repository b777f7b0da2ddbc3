package builtin

import (
	"context"
	"strings"
	"sync"
	"time"

	"kubot/internal/module"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultHistoryChats   = 256
	defaultHistoryPerChat = 500
)

// HistoryEntry сообщение, увиденное транспортом
type HistoryEntry struct {
	MessageID int
	SenderID  int64
	Text      string
	At        time.Time
}

type chatLog struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

// History помнит последние сообщения чатов. Bot API не умеет искать по
// истории, поэтому search работает по тому, что бот видел сам. Давно
// молчавшие чаты вытесняются.
type History struct {
	chats   *lru.Cache[int64, *chatLog]
	perChat int
	mu      sync.Mutex
}

// NewHistory создает историю на chats чатов по perChat сообщений
func NewHistory(chats, perChat int) *History {
	if chats <= 0 {
		chats = defaultHistoryChats
	}
	if perChat <= 0 {
		perChat = defaultHistoryPerChat
	}
	cache, err := lru.New[int64, *chatLog](chats)
	if err != nil {
		// размер уже положительный
		panic(err)
	}
	return &History{chats: cache, perChat: perChat}
}

// Attach подписывает историю на все события транспорта
func (h *History) Attach(t module.Transport) module.Handle {
	return t.On(module.EventFilter{}, func(_ context.Context, ev *module.Event) {
		h.Record(ev)
	})
}

// Record запоминает текстовое событие
func (h *History) Record(ev *module.Event) {
	if ev.MessageID == 0 || strings.TrimSpace(ev.RawText) == "" {
		return
	}

	h.mu.Lock()
	log, ok := h.chats.Get(ev.ChatID)
	if !ok {
		log = &chatLog{}
		h.chats.Add(ev.ChatID, log)
	}
	h.mu.Unlock()

	log.mu.Lock()
	defer log.mu.Unlock()
	log.entries = append(log.entries, HistoryEntry{
		MessageID: ev.MessageID,
		SenderID:  ev.SenderID,
		Text:      ev.RawText,
		At:        time.Now(),
	})
	if over := len(log.entries) - h.perChat; over > 0 {
		log.entries = append(log.entries[:0:0], log.entries[over:]...)
	}
}

// Search возвращает до limit сообщений чата с подстрокой query, от новых к
// старым. skip отбрасывает неподходящие сообщения, например команды.
func (h *History) Search(chatID int64, query string, limit int, skip func(HistoryEntry) bool) []HistoryEntry {
	log, ok := h.chats.Peek(chatID)
	if !ok {
		return nil
	}
	query = strings.ToLower(query)

	log.mu.Lock()
	defer log.mu.Unlock()
	var out []HistoryEntry
	for i := len(log.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := log.entries[i]
		if skip != nil && skip(e) {
			continue
		}
		if strings.Contains(strings.ToLower(e.Text), query) {
			out = append(out, e)
		}
	}
	return out
}

// Forget удаляет сообщения из истории чата
func (h *History) Forget(chatID int64, ids ...int) {
	log, ok := h.chats.Peek(chatID)
	if !ok {
		return
	}
	drop := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	kept := log.entries[:0]
	for _, e := range log.entries {
		if _, gone := drop[e.MessageID]; !gone {
			kept = append(kept, e)
		}
	}
	log.entries = kept
}
