package luahost

import (
	"context"
	"errors"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"kubot/internal/deps"
	"kubot/internal/module"
	"kubot/internal/worker"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ErrHostClosed вызов в уже выгруженный модуль
var ErrHostClosed = errors.New("module host is closed")

// Позиция в исходнике вида <string>:3: в начале сообщения Lua
var sourcePosition = regexp.MustCompile(`^(?:[^\s:]+:\d+:\s*)+`)

// ConfigAccessor настройки, доступные модулю
type ConfigAccessor interface {
	Get(moduleName, key string, def any) any
	Set(moduleName, key string, value any) error
}

// CommandIndex реестр команд, доступный модулю на чтение
type CommandIndex interface {
	Lookup(name string) (*module.Command, bool)
	Snapshot() map[string]string
}

// JobScheduler планировщик задач модулей
type JobScheduler interface {
	Add(moduleName, spec string, fn func(ctx context.Context) error) (string, error)
	Remove(id string) bool
}

// Env зависимости, которые загрузчик передает модулю
type Env struct {
	Name      string
	File      string
	LuaPath   string
	Transport module.Transport
	Config    ConfigAccessor
	Commands  CommandIndex
	Jobs      JobScheduler
	Loop      worker.Submitter
	Report    deps.Report
	StartedAt time.Time
	// Attach регистрирует команду, добавленную после успешной загрузки
	Attach func(cmd *module.Command)
	Logger *zap.Logger
}

// Host исполняет один модуль Lua
type Host struct {
	env    Env
	L      *lua.LState
	desc   *module.Descriptor
	logger *zap.Logger

	mu        sync.Mutex
	committed bool
	closed    bool
	jobIDs    []string
}

// New создает хост модуля
func New(env Env) *Host {
	if env.Loop == nil {
		env.Loop = worker.Inline{}
	}
	if env.StartedAt.IsZero() {
		env.StartedAt = time.Now()
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		env:    env,
		L:      newState(env.LuaPath),
		logger: logger.With(zap.String("module", env.Name), zap.String("file", env.File)),
		desc: &module.Descriptor{
			Name:         env.Name,
			Path:         env.File,
			Requirements: env.Report.All,
			Dependencies: env.Report,
		},
	}
}

// Name возвращает имя модуля
func (h *Host) Name() string {
	return h.env.Name
}

// Descriptor возвращает дескриптор, собранный модулем
func (h *Host) Descriptor() *module.Descriptor {
	return h.desc
}

// Setup компилирует исходный текст, исполняет его и вызывает setup(ctx).
// Ошибки возвращаются как *module.LoadError.
func (h *Host) Setup(ctx context.Context, source string) (*module.Descriptor, error) {
	chunk, err := h.L.LoadString(source)
	if err != nil {
		return nil, module.NewLoadError(h.env.File, module.StageParse, err)
	}

	if _, err := h.invoke(ctx, chunk, 0); err != nil {
		return nil, module.NewLoadError(h.env.File, module.StageParse, err)
	}

	setup, ok := h.L.GetGlobal("setup").(*lua.LFunction)
	if !ok {
		return nil, module.NewLoadError(h.env.File, module.StageValidate, module.ErrNoSetup)
	}

	ret, err := h.invoke(ctx, setup, 1, h.buildContext())
	if err != nil {
		return nil, module.NewLoadError(h.env.File, module.StageSetup, err)
	}

	if meta, ok := ret.(*lua.LTable); ok {
		if err := h.applyMeta(meta); err != nil {
			return nil, module.NewLoadError(h.env.File, module.StageSetup, err)
		}
	}

	return h.desc, nil
}

// Commit переводит хост в рабочий режим: новые команды регистрируются сразу
func (h *Host) Commit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.committed = true
}

// Close закрывает состояние Lua и снимает задачи модуля
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	if h.env.Jobs != nil {
		for _, id := range h.jobIDs {
			h.env.Jobs.Remove(id)
		}
	}
	h.jobIDs = nil
	h.L.Close()
}

// invoke вызывает функцию Lua под мьютексом хоста; паника превращается в ошибку
func (h *Host) invoke(ctx context.Context, fn *lua.LFunction, nret int, args ...lua.LValue) (ret lua.LValue, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return lua.LNil, ErrHostClosed
	}

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			h.logger.Error("Panic recovered in module code",
				zap.Any("panic", r),
				zap.String("stack", stack))
			err = &module.PanicError{Value: r, Stack: stack}
		}
	}()

	h.L.SetContext(ctx)
	defer h.L.RemoveContext()

	top := h.L.GetTop()
	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		h.L.SetTop(top)
		return lua.LNil, err
	}

	ret = lua.LNil
	if nret > 0 {
		ret = h.L.Get(-1)
	}
	h.L.SetTop(top)
	return ret, nil
}

// commandHandler оборачивает функцию Lua в обработчик команды
func (h *Host) commandHandler(fn *lua.LFunction) module.HandlerFunc {
	return func(ctx context.Context, ev *module.Event) error {
		_, err := h.invoke(ctx, fn, 0, h.eventTable(ctx, ev))
		if err != nil {
			return &module.ScriptError{Module: h.env.Name, Message: scriptMessage(err), Err: err}
		}
		return nil
	}
}

// scriptMessage оставляет от ошибки Lua только текст: без стека вызовов и
// без позиции в исходнике
func scriptMessage(err error) string {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	if idx := strings.Index(msg, "\nstack traceback"); idx >= 0 {
		msg = msg[:idx]
	}
	msg = strings.TrimSpace(sourcePosition.ReplaceAllString(msg, ""))
	if msg == "" {
		return "ошибка в модуле"
	}
	return msg
}

// eventHandler оборачивает функцию Lua в подписку транспорта. Вызов уходит в общий цикл.
func (h *Host) eventHandler(fn *lua.LFunction) module.EventHandler {
	return func(_ context.Context, ev *module.Event) {
		err := h.env.Loop.Submit(worker.Job{
			Name:   "event",
			Module: h.env.Name,
			UserID: ev.SenderID,
			Handler: func(ctx context.Context) error {
				_, err := h.invoke(ctx, fn, 0, h.eventTable(ctx, ev))
				if errors.Is(err, ErrHostClosed) {
					return nil
				}
				return err
			},
		})
		if err != nil {
			h.logger.Warn("Failed to schedule module event handler", zap.Error(err))
		}
	}
}

// callback оборачивает функцию Lua без аргументов
func (h *Host) callback(fn *lua.LFunction) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := h.invoke(ctx, fn, 0)
		if errors.Is(err, ErrHostClosed) {
			return nil
		}
		return err
	}
}
