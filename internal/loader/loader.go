// Package loader управляет жизненным циклом модулей: загрузка из файлов и
// каталога, установка из байтов и по ссылке, выгрузка, удаление и перезагрузка.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"kubot/internal/deps"
	"kubot/internal/luahost"
	"kubot/internal/metrics"
	"kubot/internal/module"
	"kubot/internal/registry"
	"kubot/internal/settings"
	"kubot/internal/worker"

	"go.uber.org/zap"
)

// Extension расширение файлов модулей
const Extension = ".lua"

var moduleNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)

// DependencyResolver разрешает зависимости исходника модуля
type DependencyResolver interface {
	Resolve(ctx context.Context, source string) deps.Report
	LuaPath() string
}

// Options зависимости загрузчика
type Options struct {
	Dir       string
	Transport module.Transport
	Store     *settings.Store
	Registry  *registry.Registry
	Resolver  DependencyResolver
	Jobs      luahost.JobScheduler
	Loop      worker.Submitter
	Fetcher   *Fetcher
	Metrics   metrics.Interface
	StartedAt time.Time
	// UnloadHookTimeout ограничивает асинхронный хук выгрузки
	UnloadHookTimeout time.Duration
}

type entry struct {
	desc  *module.Descriptor
	host  *luahost.Host
	state State
}

// Loader менеджер модулей
type Loader struct {
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	modules map[string]*entry
}

// New создает загрузчик
func New(opts Options, logger *zap.Logger) *Loader {
	if opts.Loop == nil {
		opts.Loop = worker.Inline{}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(DefaultFetchConfig(), logger)
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	if opts.UnloadHookTimeout <= 0 {
		opts.UnloadHookTimeout = 30 * time.Second
	}
	return &Loader{
		opts:    opts,
		logger:  logger,
		modules: make(map[string]*entry),
	}
}

// Dir каталог модулей
func (l *Loader) Dir() string {
	return l.opts.Dir
}

// ModuleName имя модуля по имени файла
func ModuleName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RegisterBuiltin регистрирует встроенный модуль. Встроенные модули не
// выгружаются перезагрузкой и не удаляются.
func (l *Loader) RegisterBuiltin(desc *module.Descriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.modules[desc.Name]; ok && e.desc != nil && e.desc.Builtin {
		return fmt.Errorf("%w: %s", module.ErrDuplicateBuiltin, desc.Name)
	}

	desc.Builtin = true
	l.opts.Registry.Register(desc)
	l.opts.Store.RegisterSchema(desc.Name, desc.Settings)
	l.modules[desc.Name] = &entry{desc: desc, state: StateActive}

	l.logger.Info("Built-in module registered",
		zap.String("module", desc.Name),
		zap.Int("commands", len(desc.Commands())))
	return nil
}

// IsBuiltin проверяет, занято ли имя встроенным модулем
func (l *Loader) IsBuiltin(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.modules[name]
	return ok && e.desc != nil && e.desc.Builtin
}

// Get возвращает активный модуль
func (l *Loader) Get(name string) (*module.Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.modules[name]
	if !ok || e.state != StateActive {
		return nil, false
	}
	return e.desc, true
}

// State состояние модуля
func (l *Loader) State(name string) State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.modules[name]; ok {
		return e.state
	}
	return StateUnloaded
}

// Modules активные модули: сначала встроенные, затем по имени
func (l *Loader) Modules() []*module.Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*module.Descriptor, 0, len(l.modules))
	for _, e := range l.modules {
		if e.state == StateActive {
			out = append(out, e.desc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Builtin != out[j].Builtin {
			return out[i].Builtin
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Stats количество модулей для проверок состояния
func (l *Loader) Stats() (active, builtin int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.modules {
		if e.state != StateActive {
			continue
		}
		active++
		if e.desc.Builtin {
			builtin++
		}
	}
	return active, builtin
}

// LoadFromPath загружает модуль из файла. Модуль регистрируется целиком или
// не регистрируется вовсе; уже загруженный модуль с тем же именем сначала выгружается.
func (l *Loader) LoadFromPath(ctx context.Context, path string) (*module.Descriptor, error) {
	return l.loadFromPath(ctx, path, nil)
}

// loadFromPath загружает модуль; resolved задает уже разрешенные зависимости
func (l *Loader) loadFromPath(ctx context.Context, path string, resolved *deps.Report) (*module.Descriptor, error) {
	name := ModuleName(path)
	logger := l.logger.With(zap.String("module", name), zap.String("file", path))

	if !strings.EqualFold(filepath.Ext(path), Extension) || !moduleNameRe.MatchString(name) {
		return nil, module.NewLoadError(path, module.StageValidate, module.ErrInvalidFilename)
	}

	l.mu.Lock()
	existing, ok := l.modules[name]
	if ok {
		switch {
		case existing.desc != nil && existing.desc.Builtin:
			l.mu.Unlock()
			return nil, module.NewLoadError(path, module.StageValidate, fmt.Errorf("%w: %s", module.ErrReservedName, name))
		case existing.state != StateActive:
			l.mu.Unlock()
			return nil, module.NewLoadError(path, module.StageValidate, fmt.Errorf("%w: %s", module.ErrModuleBusy, name))
		}
		existing.state = StateReloading
	} else {
		l.modules[name] = &entry{state: StateLoading}
	}
	l.mu.Unlock()

	if ok {
		logger.Info("Replacing loaded module")
		l.teardown(ctx, name, existing)
		l.mu.Lock()
		l.modules[name] = &entry{state: StateLoading}
		l.mu.Unlock()
	}

	desc, host, err := l.load(ctx, name, path, resolved, logger)
	l.recordLoad(err == nil)
	if err != nil {
		l.mu.Lock()
		delete(l.modules, name)
		l.mu.Unlock()
		logger.Error("Failed to load module", zap.Error(err))
		return nil, err
	}

	l.mu.Lock()
	l.opts.Registry.Register(desc)
	l.opts.Store.RegisterSchema(name, desc.Settings)
	host.Commit()
	l.modules[name] = &entry{desc: desc, host: host, state: StateActive}
	l.mu.Unlock()

	logger.Info("Module loaded",
		zap.Int("commands", len(desc.Commands())),
		zap.Int("handlers", len(desc.Handles())),
		zap.Strings("requirements", desc.Requirements))
	return desc, nil
}

func (l *Loader) recordLoad(ok bool) {
	if l.opts.Metrics != nil {
		l.opts.Metrics.RecordModuleLoad(ok)
	}
}

func (l *Loader) recordInstall(ok bool) {
	if l.opts.Metrics != nil {
		l.opts.Metrics.RecordInstall(ok)
	}
}

// load читает исходник, разрешает зависимости (если resolved == nil) и
// выполняет setup. При ошибке все подписки модуля сняты, состояние Lua закрыто.
func (l *Loader) load(ctx context.Context, name, path string, resolved *deps.Report, logger *zap.Logger) (*module.Descriptor, *luahost.Host, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, module.NewLoadError(path, module.StageRead, err)
	}
	if !utf8.Valid(raw) {
		return nil, nil, module.NewLoadError(path, module.StageRead, module.ErrInvalidEncoding)
	}
	source := string(raw)

	var report deps.Report
	if resolved != nil {
		report = *resolved
	} else {
		report = l.resolve(ctx, source)
	}
	if !report.OK() {
		logger.Warn("Module dependencies are incomplete, loading anyway",
			zap.Strings("failed", report.FailedNames()))
	}
	luaPath := ""
	if l.opts.Resolver != nil {
		luaPath = l.opts.Resolver.LuaPath()
	}

	host := luahost.New(luahost.Env{
		Name:      name,
		File:      path,
		LuaPath:   luaPath,
		Transport: l.opts.Transport,
		Config:    l.opts.Store,
		Commands:  l.opts.Registry,
		Jobs:      l.opts.Jobs,
		Loop:      l.opts.Loop,
		Report:    report,
		StartedAt: l.opts.StartedAt,
		Attach:    func(cmd *module.Command) { l.attach(name, cmd) },
		Logger:    l.logger,
	})

	desc, err := host.Setup(ctx, source)
	if err != nil {
		l.detachHandles(host.Descriptor())
		host.Close()
		return nil, nil, err
	}
	return desc, host, nil
}

func (l *Loader) resolve(ctx context.Context, source string) deps.Report {
	if l.opts.Resolver == nil {
		return deps.Report{All: deps.ParseRequirements(source)}
	}
	return l.opts.Resolver.Resolve(ctx, source)
}

// attach регистрирует команду, добавленную активным модулем после загрузки
func (l *Loader) attach(name string, cmd *module.Command) {
	l.mu.RLock()
	e, ok := l.modules[name]
	active := ok && e.state == StateActive && e.desc != nil
	l.mu.RUnlock()

	if !active {
		l.logger.Warn("Command registered by inactive module ignored",
			zap.String("module", name),
			zap.String("command", cmd.Name))
		return
	}
	e.desc.AddCommand(cmd)
	l.opts.Registry.Add(cmd)
}

func (l *Loader) detachHandles(desc *module.Descriptor) {
	for _, h := range desc.TakeHandles() {
		l.opts.Transport.RemoveHandler(h)
	}
}

// LoadFromDirectory загружает все модули каталога по алфавиту. Файлы с
// префиксом "_" и отключенные модули пропускаются; ошибки отдельных модулей
// не прерывают обход.
func (l *Loader) LoadFromDirectory(ctx context.Context, dir string) (DirectoryReport, error) {
	report := DirectoryReport{Failed: make(map[string]error)}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, fmt.Errorf("failed to create modules directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, fmt.Errorf("failed to read modules directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), Extension) {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	for _, filename := range names {
		name := ModuleName(filename)
		switch {
		case strings.HasPrefix(filename, "_"):
			continue
		case l.opts.Store.IsDisabled(name):
			l.logger.Info("Module is disabled, skipping", zap.String("module", name))
			report.Skipped = append(report.Skipped, name)
			continue
		case l.IsBuiltin(name):
			l.logger.Warn("Module file shadows a built-in module, skipping", zap.String("module", name))
			report.Skipped = append(report.Skipped, name)
			continue
		}

		if _, err := l.LoadFromPath(ctx, filepath.Join(dir, filename)); err != nil {
			report.Failed[name] = err
			continue
		}
		report.Loaded = append(report.Loaded, name)
	}

	l.logger.Info("Modules directory loaded",
		zap.String("dir", dir),
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

// DirectoryReport итог загрузки каталога
type DirectoryReport struct {
	Loaded  []string
	Failed  map[string]error
	Skipped []string
}

// Count количество загруженных модулей
func (r DirectoryReport) Count() int {
	return len(r.Loaded)
}

// Unload выгружает модуль. Повторная выгрузка ничего не делает и возвращает false.
func (l *Loader) Unload(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	e, ok := l.modules[name]
	if !ok {
		l.mu.Unlock()
		return false, nil
	}
	if e.desc != nil && e.desc.Builtin {
		l.mu.Unlock()
		return false, fmt.Errorf("%w: %s", module.ErrBuiltinModule, name)
	}
	if e.state != StateActive {
		l.mu.Unlock()
		return false, fmt.Errorf("%w: %s", module.ErrModuleBusy, name)
	}
	e.state = StateUnloaded
	l.mu.Unlock()

	l.teardown(ctx, name, e)

	l.mu.Lock()
	if cur, ok := l.modules[name]; ok && cur == e {
		delete(l.modules, name)
	}
	l.mu.Unlock()

	l.logger.Info("Module unloaded", zap.String("module", name))
	return true, nil
}

// teardown снимает модуль в фиксированном порядке: хук, подписки, команды, схема, состояние Lua
func (l *Loader) teardown(ctx context.Context, name string, e *entry) {
	desc := e.desc
	if desc == nil {
		return
	}

	if desc.OnUnload != nil {
		l.runUnloadHook(ctx, desc)
	}

	l.detachHandles(desc)
	removed := l.opts.Registry.RemoveModule(name)
	l.opts.Store.DropSchema(name)

	if e.host != nil {
		e.host.Close()
	}

	l.logger.Debug("Module torn down",
		zap.String("module", name),
		zap.Int("commands_removed", removed))
}

func (l *Loader) runUnloadHook(ctx context.Context, desc *module.Descriptor) {
	hook := desc.OnUnload
	logger := l.logger.With(zap.String("module", desc.Name))

	if !desc.OnUnloadAsync {
		if err := hook(ctx); err != nil {
			logger.Warn("Unload hook failed", zap.Error(err))
		}
		return
	}

	timeout := l.opts.UnloadHookTimeout
	err := l.opts.Loop.Submit(worker.Job{
		Name:   "on_unload",
		Module: desc.Name,
		Handler: func(context.Context) error {
			hookCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := hook(hookCtx); err != nil {
				logger.Warn("Async unload hook failed", zap.Error(err))
			}
			return nil
		},
	})
	if err != nil {
		logger.Warn("Failed to schedule unload hook", zap.Error(err))
	}
}

// Reload выгружает все невстроенные модули и заново загружает каталог
func (l *Loader) Reload(ctx context.Context) (DirectoryReport, error) {
	l.mu.RLock()
	var names []string
	for name, e := range l.modules {
		if e.desc != nil && !e.desc.Builtin && e.state == StateActive {
			names = append(names, name)
		}
	}
	l.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if _, err := l.Unload(ctx, name); err != nil {
			l.logger.Warn("Failed to unload module during reload",
				zap.String("module", name), zap.Error(err))
		}
	}

	report, err := l.LoadFromDirectory(ctx, l.opts.Dir)
	if l.opts.Metrics != nil {
		l.opts.Metrics.SetLastReload(time.Now())
	}
	return report, err
}

// Shutdown выгружает все модули, включая встроенные
func (l *Loader) Shutdown(ctx context.Context) {
	l.mu.Lock()
	entries := make(map[string]*entry, len(l.modules))
	for name, e := range l.modules {
		if e.state == StateActive {
			entries[name] = e
			e.state = StateUnloaded
		}
	}
	l.mu.Unlock()

	for name, e := range entries {
		l.teardown(ctx, name, e)
	}

	l.mu.Lock()
	for name := range entries {
		delete(l.modules, name)
	}
	l.mu.Unlock()

	l.logger.Info("All modules unloaded", zap.Int("count", len(entries)))
}

// validateInstallName проверяет имя файла устанавливаемого модуля
func (l *Loader) validateInstallName(filename string) (string, string, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if !strings.EqualFold(filepath.Ext(filename), Extension) {
		return "", "", fmt.Errorf("%w: %s", module.ErrInvalidFilename, filename)
	}
	name := ModuleName(filename)
	if !moduleNameRe.MatchString(name) {
		return "", "", fmt.Errorf("%w: %s", module.ErrInvalidFilename, filename)
	}
	if l.IsBuiltin(name) {
		return "", "", fmt.Errorf("%w: %s", module.ErrReservedName, name)
	}
	return filename, name, nil
}

// Prepared модуль, готовый к установке: имя проверено, исходник скачан,
// зависимости разрешены
type Prepared struct {
	Filename string
	Name     string
	Content  []byte
	Report   deps.Report

	inst settings.Installation
}

// PrepareBytes проверяет файл модуля и разрешает его зависимости. Не трогает
// каталог и реестр, поэтому вызывается вне общего цикла.
func (l *Loader) PrepareBytes(ctx context.Context, filename string, content []byte) (*Prepared, error) {
	return l.prepare(ctx, filename, content, settings.Installation{Source: settings.SourceFile})
}

// PrepareURL скачивает модуль по ссылке и разрешает его зависимости.
// Вызывается вне общего цикла.
func (l *Loader) PrepareURL(ctx context.Context, rawURL string) (*Prepared, error) {
	normalized := NormalizeURL(rawURL)
	filename, err := FilenameFromURL(normalized)
	if err != nil {
		return nil, err
	}
	if _, _, err := l.validateInstallName(filename); err != nil {
		return nil, err
	}

	l.logger.Info("Downloading module", zap.String("url", normalized))
	body, err := l.opts.Fetcher.Fetch(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", normalized, err)
	}

	return l.prepare(ctx, filename, body, settings.Installation{Source: settings.SourceURL, URL: rawURL})
}

func (l *Loader) prepare(ctx context.Context, filename string, content []byte, inst settings.Installation) (*Prepared, error) {
	filename, name, err := l.validateInstallName(filename)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(content) {
		return nil, module.ErrInvalidEncoding
	}

	report := l.resolve(ctx, string(content))
	l.logger.Debug("Module dependencies resolved",
		zap.String("module", name),
		zap.Strings("installed", report.Installed),
		zap.Strings("failed", report.FailedNames()))

	return &Prepared{Filename: filename, Name: name, Content: content, Report: report, inst: inst}, nil
}

// InstallFromBytes сохраняет файл модуля в каталог и загружает его. При ошибке
// загрузки записанный файл удаляется, прежнее содержимое восстанавливается.
func (l *Loader) InstallFromBytes(ctx context.Context, filename string, content []byte) (*module.Descriptor, error) {
	p, err := l.PrepareBytes(ctx, filename, content)
	if err != nil {
		return nil, err
	}
	return l.CommitInstall(ctx, p)
}

// InstallFromURL скачивает модуль по ссылке и устанавливает его
func (l *Loader) InstallFromURL(ctx context.Context, rawURL string) (*module.Descriptor, error) {
	p, err := l.PrepareURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return l.CommitInstall(ctx, p)
}

// CommitInstall записывает подготовленный модуль в каталог и загружает его
// с уже разрешенными зависимостями. Вызывается из общего цикла.
func (l *Loader) CommitInstall(ctx context.Context, p *Prepared) (*module.Descriptor, error) {
	// встроенный модуль мог появиться, пока шла подготовка
	filename, name, err := l.validateInstallName(p.Filename)
	if err != nil {
		return nil, err
	}
	inst := p.inst

	if err := os.MkdirAll(l.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create modules directory: %w", err)
	}
	path := filepath.Join(l.opts.Dir, filename)

	previous, readErr := os.ReadFile(path)
	hadPrevious := readErr == nil
	_, wasActive := l.Get(name)

	if wasActive {
		if _, err := l.Unload(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to unload previous version: %w", err)
		}
	}

	if err := os.WriteFile(path, p.Content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write module file: %w", err)
	}

	report := p.Report
	desc, err := l.loadFromPath(ctx, path, &report)
	l.recordInstall(err == nil)
	if err != nil {
		l.rollbackInstall(ctx, path, previous, hadPrevious, wasActive)
		return nil, err
	}

	inst.Filename = filename
	inst.InstalledAt = time.Now().UTC()
	inst.Requirements = desc.Requirements
	if err := l.opts.Store.RecordInstall(name, inst); err != nil {
		l.logger.Warn("Failed to record module installation", zap.String("module", name), zap.Error(err))
	}

	l.logger.Info("Module installed",
		zap.String("module", name),
		zap.String("source", inst.Source),
		zap.String("url", inst.URL))
	return desc, nil
}

func (l *Loader) rollbackInstall(ctx context.Context, path string, previous []byte, hadPrevious, wasActive bool) {
	if !hadPrevious {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.logger.Error("Failed to remove broken module file", zap.String("file", path), zap.Error(err))
		}
		return
	}

	if err := os.WriteFile(path, previous, 0o644); err != nil {
		l.logger.Error("Failed to restore previous module file", zap.String("file", path), zap.Error(err))
		return
	}
	if wasActive {
		if _, err := l.LoadFromPath(ctx, path); err != nil {
			l.logger.Error("Failed to reload previous module version", zap.String("file", path), zap.Error(err))
		}
	}
}

// UninstallResult итог удаления модуля
type UninstallResult struct {
	Unloaded bool
	Deleted  bool
}

// Uninstall выгружает модуль, удаляет его файл и запись об установке
func (l *Loader) Uninstall(ctx context.Context, name string) (UninstallResult, error) {
	var result UninstallResult
	if l.IsBuiltin(name) {
		return result, fmt.Errorf("%w: %s", module.ErrBuiltinModule, name)
	}

	unloaded, err := l.Unload(ctx, name)
	if err != nil {
		return result, err
	}
	result.Unloaded = unloaded

	inst, recorded := l.opts.Store.Installation(name)
	candidates := []string{filepath.Join(l.opts.Dir, name+Extension)}
	if recorded && inst.Filename != "" {
		candidates = append(candidates, filepath.Join(l.opts.Dir, filepath.Base(inst.Filename)))
	}
	for _, path := range candidates {
		err := os.Remove(path)
		if err == nil {
			result.Deleted = true
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("failed to delete module file: %w", err)
		}
	}

	if recorded {
		if err := l.opts.Store.ForgetInstall(name); err != nil {
			return result, fmt.Errorf("failed to forget installation: %w", err)
		}
	}

	if !result.Unloaded && !result.Deleted && !recorded {
		return result, fmt.Errorf("%w: %s", module.ErrModuleNotFound, name)
	}

	l.logger.Info("Module uninstalled",
		zap.String("module", name),
		zap.Bool("unloaded", result.Unloaded),
		zap.Bool("deleted", result.Deleted))
	return result, nil
}

// ToggleResult итог переключения модуля
type ToggleResult struct {
	Disabled bool
	// Applied false, если изменение вступит в силу только после перезапуска
	Applied bool
}

// Toggle включает или отключает модуль. Отключенный модуль выгружается,
// включенный загружается из каталога, если его файл на месте.
func (l *Loader) Toggle(ctx context.Context, name string) (ToggleResult, error) {
	var result ToggleResult
	path := filepath.Join(l.opts.Dir, name+Extension)
	_, statErr := os.Stat(path)
	hasFile := statErr == nil
	builtin := l.IsBuiltin(name)
	_, loaded := l.Get(name)

	if !l.opts.Store.IsDisabled(name) && !hasFile && !loaded && !builtin {
		return result, fmt.Errorf("%w: %s", module.ErrModuleNotFound, name)
	}

	disabled, err := l.opts.Store.ToggleDisabled(name)
	if err != nil {
		return result, fmt.Errorf("failed to toggle module: %w", err)
	}
	result.Disabled = disabled

	switch {
	case builtin:
		l.logger.Info("Built-in module toggled, restart required",
			zap.String("module", name), zap.Bool("disabled", disabled))
		return result, nil
	case disabled:
		if _, err := l.Unload(ctx, name); err != nil {
			return result, err
		}
		result.Applied = true
	case hasFile:
		if _, err := l.LoadFromPath(ctx, path); err != nil {
			return result, err
		}
		result.Applied = true
	default:
		result.Applied = true
	}

	l.logger.Info("Module toggled", zap.String("module", name), zap.Bool("disabled", disabled))
	return result, nil
}
