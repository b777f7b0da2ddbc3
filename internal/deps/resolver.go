package deps

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxErrorExcerpt = 200

// Failure описывает неудавшуюся установку
type Failure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Report результат разбора и установки зависимостей модуля
type Report struct {
	All            []string  `json:"all"`
	AlreadyPresent []string  `json:"already_present"`
	Installed      []string  `json:"installed"`
	Failed         []Failure `json:"failed"`
}

// OK сообщает, что все зависимости доступны
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// FailedNames возвращает имена неустановленных пакетов
func (r Report) FailedNames() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Name)
	}
	return out
}

// Result результат одной установки
type Result struct {
	Name    string
	OK      bool
	Message string
}

// Options параметры менеджера пакетов
type Options struct {
	Binary     string
	Tree       string
	LuaVersion string
	Timeout    time.Duration
}

// Option настраивает Resolver
type Option func(*Resolver)

// WithRunner подменяет запуск внешних процессов
func WithRunner(runner Runner) Option {
	return func(r *Resolver) { r.runner = runner }
}

// WithCheckers подменяет проверки require и метаданных
func WithCheckers(require func(module string) bool, metadata func(dist string) bool) Option {
	return func(r *Resolver) {
		r.require = require
		r.metadata = metadata
	}
}

// Resolver проверяет и устанавливает зависимости через luarocks
type Resolver struct {
	opts     Options
	runner   Runner
	require  func(module string) bool
	metadata func(dist string) bool

	// luarocks нельзя запускать параллельно на одном дереве. Семафор вместо
	// мьютекса, чтобы ожидание очереди укладывалось в таймаут вызова.
	pm chan struct{}

	logger *zap.Logger
}

// New создает Resolver
func New(opts Options, logger *zap.Logger, options ...Option) *Resolver {
	if opts.Binary == "" {
		opts.Binary = "luarocks"
	}
	if opts.LuaVersion == "" {
		opts.LuaVersion = "5.1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	r := &Resolver{
		opts:     opts,
		runner:   ExecRunner{},
		require:  requireCheck(LuaPath(opts.Tree, opts.LuaVersion)),
		metadata: manifestLookup(opts.Tree, opts.LuaVersion),
		pm:       make(chan struct{}, 1),
		logger:   logger,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// LuaPath возвращает package.path для модулей
func (r *Resolver) LuaPath() string {
	return LuaPath(r.opts.Tree, r.opts.LuaVersion)
}

// IsInstalled проверяет пакет: require по имени из таблицы алиасов,
// затем метаданные luarocks, затем require по буквальному имени.
func (r *Resolver) IsInstalled(name string) bool {
	base := BaseName(name)
	if r.require(ModuleName(name)) {
		return true
	}
	if r.metadata(base) {
		return true
	}
	return r.require(strings.ToLower(strings.ReplaceAll(base, "-", "_")))
}

func (r *Resolver) treeArgs(args ...string) []string {
	out := []string{"--lua-version", r.opts.LuaVersion}
	if r.opts.Tree != "" {
		out = append(out, "--tree", r.opts.Tree)
	}
	return append(out, args...)
}

// run запускает luarocks и переводит любой исход в (ok, message)
func (r *Resolver) run(ctx context.Context, name string, timeout time.Duration, args ...string) (ok bool, msg string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Package manager call panicked",
				zap.String("package", name),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
			ok, msg = false, fmt.Sprintf("%s: %v", name, rec)
		}
	}()

	if timeout <= 0 {
		timeout = r.opts.Timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.lock(runCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, fmt.Sprintf("%s: timeout (%s)", name, timeout)
		}
		return false, fmt.Sprintf("%s: %v", name, err)
	}
	defer r.unlock()

	_, stderr, err := r.runner.Run(runCtx, r.opts.Binary, r.treeArgs(args...)...)
	switch {
	case err == nil:
		return true, name
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return false, fmt.Sprintf("%s: timeout (%s)", name, timeout)
	case errors.Is(err, exec.ErrNotFound):
		return false, fmt.Sprintf("%s: %s not found", name, r.opts.Binary)
	case ctx.Err() != nil:
		return false, fmt.Sprintf("%s: %v", name, ctx.Err())
	default:
		excerpt := lastLine(stderr)
		if excerpt == "" {
			excerpt = "unknown error"
		}
		return false, fmt.Sprintf("%s: %s", name, excerpt)
	}
}

// lock занимает менеджер пакетов или сдается по ctx
func (r *Resolver) lock(ctx context.Context) error {
	select {
	case r.pm <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) unlock() {
	<-r.pm
}

// lastLine возвращает последнюю непустую строку stderr, обрезанную до лимита
func lastLine(stderr []byte) string {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if r := []rune(last); len(r) > maxErrorExcerpt {
		last = string(r[:maxErrorExcerpt])
	}
	return last
}

// InstallSync устанавливает пакет и блокируется до завершения или таймаута
func (r *Resolver) InstallSync(name string, timeout time.Duration) (bool, string) {
	return r.install(context.Background(), name, timeout)
}

// InstallAsync устанавливает пакет в отдельной горутине
func (r *Resolver) InstallAsync(ctx context.Context, name string, timeout time.Duration) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ok, msg := r.install(ctx, name, timeout)
		ch <- Result{Name: name, OK: ok, Message: msg}
		close(ch)
	}()
	return ch
}

func (r *Resolver) install(ctx context.Context, name string, timeout time.Duration) (bool, string) {
	r.logger.Info("Installing package", zap.String("package", name))
	ok, msg := r.run(ctx, name, timeout, "install", name)
	if ok {
		r.logger.Info("Package installed", zap.String("package", name))
	} else {
		r.logger.Error("Failed to install package", zap.String("package", name), zap.String("error", msg))
	}
	return ok, msg
}

// Uninstall удаляет пакет
func (r *Resolver) Uninstall(ctx context.Context, name string) (bool, string) {
	ok, msg := r.run(ctx, name, 60*time.Second, "remove", BaseName(name))
	if !ok {
		r.logger.Warn("Failed to remove package", zap.String("package", name), zap.String("error", msg))
	}
	return ok, msg
}

// List возвращает установленные rocks в виде "имя версия"
func (r *Resolver) List(ctx context.Context) ([]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	if err := r.lock(runCtx); err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer r.unlock()

	stdout, stderr, err := r.runner.Run(runCtx, r.opts.Binary, r.treeArgs("list", "--porcelain")...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %s: %w", lastLine(stderr), err)
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		switch len(fields) {
		case 0:
		case 1:
			out = append(out, fields[0])
		default:
			out = append(out, fields[0]+" "+fields[1])
		}
	}
	return out, nil
}

// Resolve разбирает зависимости и последовательно устанавливает недостающие.
// Ошибка одного пакета не прерывает установку остальных.
func (r *Resolver) Resolve(ctx context.Context, source string) Report {
	report := Report{
		All:            ParseRequirements(source),
		AlreadyPresent: []string{},
		Installed:      []string{},
		Failed:         []Failure{},
	}

	for _, pkg := range report.All {
		if r.IsInstalled(pkg) {
			report.AlreadyPresent = append(report.AlreadyPresent, pkg)
			r.logger.Debug("Package already present", zap.String("package", pkg))
			continue
		}
		if ok, msg := r.install(ctx, pkg, r.opts.Timeout); ok {
			report.Installed = append(report.Installed, pkg)
		} else {
			report.Failed = append(report.Failed, Failure{Name: pkg, Error: msg})
		}
	}

	return report
}
