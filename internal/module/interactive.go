package module

import "context"

// Button кнопка встроенной клавиатуры
type Button struct {
	Text string
	Data string
}

// Keyboard встроенная клавиатура, строки кнопок
type Keyboard [][]Button

// Row собирает строку клавиатуры
func Row(buttons ...Button) []Button {
	return buttons
}

// Callback нажатие кнопки встроенной клавиатуры
type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	SenderID  int64
	Data      string
}

// CallbackHandler обработчик нажатий
type CallbackHandler func(ctx context.Context, cb *Callback)

// InteractiveTransport транспорт с меню на встроенных клавиатурах
type InteractiveTransport interface {
	Transport
	SendKeyboard(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error)
	EditKeyboard(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	OnCallback(handler CallbackHandler)
}
