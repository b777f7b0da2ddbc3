// Package module содержит модель данных среды модулей: дескрипторы модулей
// и команд, входящие события и контракт транспорта.
package module

import (
	"context"
	"regexp"
	"slices"
	"sync"

	"kubot/internal/deps"
	"kubot/internal/settings"
)

// HandlerFunc обработчик команды. Неявного таймаута у обработчика нет:
// долгий обработчик задерживает все события общего цикла.
type HandlerFunc func(ctx context.Context, ev *Event) error

// Command описывает одну вызываемую команду
type Command struct {
	Name        string
	Handler     HandlerFunc
	Description string
	Usage       string
	Module      string
	Category    string
}

// Descriptor описывает загруженный модуль
type Descriptor struct {
	Name        string
	Description string
	Author      string
	Version     string
	Builtin     bool
	// Path путь к исходному файлу, пуст у встроенных модулей
	Path string

	Settings     []settings.Setting
	Requirements []string
	Dependencies deps.Report

	// OnUnload вызывается при выгрузке; при OnUnloadAsync вызов не блокирует выгрузку
	OnUnload      func(ctx context.Context) error
	OnUnloadAsync bool

	mu       sync.Mutex
	commands []*Command
	handles  []Handle
}

// AddCommand добавляет команду или заменяет одноименную
func (d *Descriptor) AddCommand(cmd *Command) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd.Module = d.Name
	for i, existing := range d.commands {
		if existing.Name == cmd.Name {
			d.commands[i] = cmd
			return
		}
	}
	d.commands = append(d.commands, cmd)
}

// Commands возвращает команды в порядке объявления
func (d *Descriptor) Commands() []*Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.commands)
}

// Command возвращает команду модуля по имени
func (d *Descriptor) Command(name string) (*Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cmd := range d.commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return nil, false
}

// AddHandle запоминает подписку на события транспорта
func (d *Descriptor) AddHandle(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles = append(d.handles, h)
}

// DropHandle забывает подписку
func (d *Descriptor) DropHandle(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles = slices.DeleteFunc(d.handles, func(x Handle) bool { return x == h })
}

// TakeHandles возвращает и очищает все подписки модуля
func (d *Descriptor) TakeHandles() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.handles
	d.handles = nil
	return out
}

// Handles возвращает подписки модуля
func (d *Descriptor) Handles() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.handles)
}

// Message сообщение, на которое отвечает событие
type Message struct {
	ChatID    int64
	SenderID  int64
	MessageID int
	Text      string
	Document  *Document
}

// Document вложенный файл сообщения
type Document struct {
	FileID   string
	FileName string
	Size     int64
}

// Event входящее текстовое событие от транспорта
type Event struct {
	ChatID    int64
	SenderID  int64
	MessageID int
	RawText   string
	Outgoing  bool
	IsReply   bool
	Reply     *Message
	Document  *Document

	// Заполняются диспетчером
	Command string
	Args    string
}

// EventFilter отбирает события для подписки
type EventFilter struct {
	Incoming bool
	Outgoing bool
	Pattern  *regexp.Regexp
	Chats    []int64
}

// Match проверяет событие по фильтру. Если не задано ни Incoming, ни Outgoing,
// подходят оба направления.
func (f EventFilter) Match(ev *Event) bool {
	if f.Incoming || f.Outgoing {
		if ev.Outgoing && !f.Outgoing {
			return false
		}
		if !ev.Outgoing && !f.Incoming {
			return false
		}
	}
	if len(f.Chats) > 0 && !slices.Contains(f.Chats, ev.ChatID) {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(ev.RawText) {
		return false
	}
	return true
}

// EventHandler обработчик подписки
type EventHandler func(ctx context.Context, ev *Event)

// Handle непрозрачный идентификатор подписки
type Handle string

// Transport внешний чат-клиент. Модулям доступны только эти примитивы.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	On(filter EventFilter, handler EventHandler) Handle
	RemoveHandler(h Handle) bool
}

// FileDownloader транспорт, умеющий скачивать вложения
type FileDownloader interface {
	DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

// ChatInfo сведения о чате
type ChatInfo struct {
	ID          int64
	Type        string
	Title       string
	Username    string
	Description string
	Members     int
}

// Private личный диалог, а не группа или канал
func (c ChatInfo) Private() bool {
	return c.Type == "private"
}

// UserInfo сведения о пользователе
type UserInfo struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
	Bio       string
}

// Inspector транспорт, умеющий отдавать сведения о чатах и участниках
type Inspector interface {
	ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error)
	UserInfo(ctx context.Context, chatID, userID int64) (UserInfo, error)
}

// Reply отправляет ответ на событие: свое сообщение редактируется, на чужое
// отправляется новое
func Reply(ctx context.Context, t Transport, ev *Event, text string) error {
	if ev.Outgoing && ev.MessageID != 0 {
		return t.EditMessage(ctx, ev.ChatID, ev.MessageID, text)
	}
	_, err := t.SendMessage(ctx, ev.ChatID, text)
	return err
}
