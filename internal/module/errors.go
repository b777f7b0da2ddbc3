package module

import (
	"errors"
	"fmt"
)

// Стандартные ошибки среды модулей
var (
	ErrModuleNotFound   = errors.New("module not found")
	ErrBuiltinModule    = errors.New("built-in module cannot be uninstalled")
	ErrReservedName     = errors.New("name is reserved by a built-in module")
	ErrInvalidFilename  = errors.New("module file must be a .lua file")
	ErrInvalidEncoding  = errors.New("module source is not valid UTF-8")
	ErrNoSetup          = errors.New("module does not define setup(ctx)")
	ErrModuleBusy       = errors.New("module is being loaded")
	ErrHTMLPayload      = errors.New("HTML page instead of Lua source")
	ErrPayloadTooLarge  = errors.New("payload exceeds size limit")
	ErrDuplicateBuiltin = errors.New("built-in module already registered")
)

// Стадии загрузки для LoadError
const (
	StageRead     = "read"
	StageParse    = "parse"
	StageSetup    = "setup"
	StageValidate = "validate"
	StageCommit   = "commit"
)

// LoadError ошибка загрузки модуля с указанием файла и стадии
type LoadError struct {
	File  string
	Stage string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s (%s): %v", e.File, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError создает ошибку загрузки
func NewLoadError(file, stage string, err error) *LoadError {
	return &LoadError{File: file, Stage: stage, Err: err}
}

// IsLoadError проверяет, является ли ошибка LoadError
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// CommandError ошибка выполнения команды
type CommandError struct {
	Command string
	Module  string
	UserID  int64
	ChatID  int64
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s (%s) failed for user %d in chat %d: %v",
		e.Command, e.Module, e.UserID, e.ChatID, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError создает ошибку команды
func NewCommandError(cmd *Command, ev *Event, err error) *CommandError {
	return &CommandError{
		Command: cmd.Name,
		Module:  cmd.Module,
		UserID:  ev.SenderID,
		ChatID:  ev.ChatID,
		Err:     err,
	}
}

// IsCommandError проверяет, является ли ошибка CommandError
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}

// PanicError паника внутри кода модуля, превращенная в ошибку
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ScriptError ошибка в коде Lua-модуля. Error возвращает полный текст со
// стеком вызовов для журнала, UserMessage только суть для ответа в чат.
type ScriptError struct {
	Module  string
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Module, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// UserMessage короткий текст ошибки без стека и позиций в исходнике
func (e *ScriptError) UserMessage() string {
	return e.Message
}

// UserMessage возвращает текст ошибки, который можно показать в чате
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return err.Error()
}
