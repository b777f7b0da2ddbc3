// Package dispatcher разбирает сообщения с префиксом команды и вызывает
// обработчики из реестра. Диспетчер является внешней границей ошибок для
// всего кода, запущенного из чата: ошибки и паники сюда не проходят дальше.
package dispatcher

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"kubot/internal/format"
	"kubot/internal/module"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

// CommandLookup реестр команд
type CommandLookup interface {
	Lookup(name string) (*module.Command, bool)
}

// Settings настройки, которые нужны диспетчеру
type Settings interface {
	Prefix() string
	IncrementCommandsUsed() (int64, error)
}

// Dispatcher диспетчер команд
type Dispatcher struct {
	settings  Settings
	commands  CommandLookup
	transport module.Transport
	logger    *zap.Logger
	handler   Handler
}

// Option настраивает диспетчер
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	middlewares []Middleware
}

// WithMiddleware добавляет middleware в цепочку после восстановления после паники
func WithMiddleware(mws ...Middleware) Option {
	return func(o *dispatcherOptions) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// New создает диспетчер
func New(settings Settings, commands CommandLookup, transport module.Transport, logger *zap.Logger, opts ...Option) *Dispatcher {
	var o dispatcherOptions
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dispatcher{
		settings:  settings,
		commands:  commands,
		transport: transport,
		logger:    logger,
	}
	mws := append([]Middleware{Recovery(logger)}, o.middlewares...)
	d.handler = Chain(d.invoke, mws...)
	return d
}

// Parse отделяет имя команды от аргументов. Имя приводится к нижнему регистру.
func Parse(text, prefix string) (name, args string, ok bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", "", false
	}
	rest := strings.TrimLeftFunc(text[len(prefix):], unicode.IsSpace)
	if rest == "" {
		return "", "", false
	}

	idx := strings.IndexFunc(rest, unicode.IsSpace)
	if idx < 0 {
		return strings.ToLower(rest), "", true
	}
	return strings.ToLower(rest[:idx]), strings.TrimSpace(rest[idx:]), true
}

// Dispatch обрабатывает текст события. Возвращает true, если команда найдена
// и вызвана. Ошибки обработчика превращаются в короткий ответ в чат.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *module.Event) bool {
	name, args, ok := Parse(ev.RawText, d.settings.Prefix())
	if !ok {
		return false
	}

	cmd, found := d.commands.Lookup(name)
	if !found {
		d.logger.Debug("Unknown command", zap.String("command", name), zap.Int64("chat_id", ev.ChatID))
		return false
	}

	ev.Command = name
	ev.Args = args

	err := d.handler(ctx, cmd, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimited):
		d.reply(ctx, ev, "⏳ Слишком много запросов, попробуйте позже")
	default:
		cmdErr := module.NewCommandError(cmd, ev, err)
		d.logger.Warn("Command failed",
			zap.String("command", cmdErr.Command),
			zap.String("module", cmdErr.Module),
			zap.Int64("user_id", cmdErr.UserID),
			zap.Int64("chat_id", cmdErr.ChatID),
			zap.Error(cmdErr.Err))
		d.reply(ctx, ev, format.Error(name, module.UserMessage(err)))
	}
	return true
}

// invoke конец цепочки: счетчик использования и вызов обработчика
func (d *Dispatcher) invoke(ctx context.Context, cmd *module.Command, ev *module.Event) error {
	if _, err := d.settings.IncrementCommandsUsed(); err != nil {
		d.logger.Warn("Failed to persist command counter", zap.Error(err))
	}
	if cmd.Handler == nil {
		return nil
	}
	return cmd.Handler(ctx, ev)
}

func (d *Dispatcher) reply(ctx context.Context, ev *module.Event, text string) {
	if err := module.Reply(ctx, d.transport, ev, text); err != nil {
		d.logger.Error("Failed to send error reply",
			zap.Int64("chat_id", ev.ChatID),
			zap.Error(err))
	}
}

// Subscribe подписывает диспетчер на все текстовые события транспорта.
// Команды выполняются в общем цикле.
func (d *Dispatcher) Subscribe(loop worker.Submitter) module.Handle {
	return d.transport.On(module.EventFilter{}, func(_ context.Context, ev *module.Event) {
		if ev.RawText == "" {
			return
		}
		if _, _, ok := Parse(ev.RawText, d.settings.Prefix()); !ok {
			return
		}
		err := loop.Submit(worker.Job{
			Name:   "dispatch",
			UserID: ev.SenderID,
			Handler: func(ctx context.Context) error {
				d.Dispatch(ctx, ev)
				return nil
			},
		})
		if err != nil {
			d.logger.Warn("Failed to schedule command", zap.Error(err))
		}
	})
}
