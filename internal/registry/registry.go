// Package registry содержит глобальный индекс команд: имя -> дескриптор команды.
package registry

import (
	"sort"
	"strings"
	"sync"

	"kubot/internal/module"

	"go.uber.org/zap"
)

// Registry индекс команд всех загруженных модулей. При совпадении имен
// побеждает последняя регистрация; о перехвате пишется предупреждение.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*module.Command
	logger   *zap.Logger
}

// New создает пустой реестр
func New(logger *zap.Logger) *Registry {
	return &Registry{
		commands: make(map[string]*module.Command),
		logger:   logger,
	}
}

// Register добавляет все команды модуля
func (r *Registry) Register(desc *module.Descriptor) {
	for _, cmd := range desc.Commands() {
		r.Add(cmd)
	}
}

// Add добавляет одну команду
func (r *Registry) Add(cmd *module.Command) {
	name := strings.ToLower(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.commands[name]; ok && prev.Module != cmd.Module {
		r.logger.Warn("Command overridden by another module",
			zap.String("command", name),
			zap.String("previous_module", prev.Module),
			zap.String("module", cmd.Module))
	}
	r.commands[name] = cmd
}

// Lookup ищет команду по имени без учета регистра
func (r *Registry) Lookup(name string) (*module.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// RemoveModule удаляет все команды, которыми сейчас владеет модуль.
// Команды, перехваченные другим модулем, остаются за ним.
func (r *Registry) RemoveModule(moduleName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, cmd := range r.commands {
		if cmd.Module == moduleName {
			delete(r.commands, name)
			removed++
		}
	}
	return removed
}

// Commands возвращает все команды, отсортированные по имени
func (r *Registry) Commands() []*module.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*module.Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByModule группирует команды по модулю-владельцу
func (r *Registry) ByModule() map[string][]*module.Command {
	out := make(map[string][]*module.Command)
	for _, cmd := range r.Commands() {
		out[cmd.Module] = append(out[cmd.Module], cmd)
	}
	return out
}

// Len возвращает число команд
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Snapshot возвращает копию отображения имя -> модуль
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.commands))
	for name, cmd := range r.commands {
		out[name] = cmd.Module
	}
	return out
}
