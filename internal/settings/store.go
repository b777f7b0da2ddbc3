package settings

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const saveTimeout = 10 * time.Second

// Store хранит документ настроек в памяти и синхронно сбрасывает его в Backend
// после каждой мутации.
type Store struct {
	mu      sync.RWMutex
	doc     *Document
	schemas map[string][]Setting

	backend Backend
	codec   Codec
	logger  *zap.Logger
}

// Open читает документ из backend или создает документ по умолчанию
func Open(ctx context.Context, backend Backend, codec Codec, defaultPrefix string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		schemas: make(map[string][]Setting),
		backend: backend,
		codec:   codec,
		logger:  logger,
	}

	data, err := backend.Load(ctx)
	if err != nil {
		return nil, err
	}

	doc := DefaultDocument(defaultPrefix)
	if len(data) > 0 {
		if err := codec.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to decode settings document: %w", err)
		}
	}
	doc.normalize(DefaultDocument(defaultPrefix).Prefix)
	if doc.Stats.StartedAt.IsZero() {
		doc.Stats.StartedAt = time.Now().UTC()
	}
	s.doc = doc

	if err := s.flushLocked(ctx); err != nil {
		return nil, err
	}

	logger.Info("Settings store opened",
		zap.String("format", codec.Name()),
		zap.String("prefix", doc.Prefix),
		zap.Int("custom_settings", len(doc.CustomSettings)),
		zap.Int("installed_modules", len(doc.InstalledModules)))
	return s, nil
}

// OpenFile открывает хранилище в файле, формат выбирается по расширению
func OpenFile(ctx context.Context, path, defaultPrefix string, logger *zap.Logger) (*Store, error) {
	codec, err := CodecForPath(path)
	if err != nil {
		return nil, err
	}
	return Open(ctx, NewFileBackend(path), codec, defaultPrefix, logger)
}

// Ping проверяет доступность backend
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close закрывает backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// settingKey составляет ключ "<module>.<key>"
func settingKey(module, key string) string {
	return module + "." + key
}

// mutate применяет изменение и сбрасывает документ; при ошибке записи изменение откатывается
func (s *Store) mutate(op string, fn func(doc *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.doc.clone()
	fn(s.doc)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.flushLocked(ctx); err != nil {
		s.doc = &previous
		s.logger.Error("Failed to persist settings", zap.String("operation", op), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) flushLocked(ctx context.Context) error {
	data, err := s.codec.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings document: %w", err)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return fmt.Errorf("failed to flush settings document: %w", err)
	}
	return nil
}

// RegisterSchema запоминает схему настроек загруженного модуля
func (s *Store) RegisterSchema(module string, schema []Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[module] = append([]Setting(nil), schema...)
}

// DropSchema забывает схему выгруженного модуля
func (s *Store) DropSchema(module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schemas, module)
}

// Schema возвращает схему настроек модуля
func (s *Store) Schema(module string) []Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Setting(nil), s.schemas[module]...)
}

func (s *Store) schemaEntry(module, key string) (Setting, bool) {
	for _, entry := range s.schemas[module] {
		if entry.Key == key {
			return entry, true
		}
	}
	return Setting{}, false
}

// Get возвращает значение настройки модуля: пользовательское значение,
// затем значение по умолчанию из схемы, затем def. Пользовательское значение
// приводится к типу из схемы; при ошибке приведения возвращается def.
// Значение по умолчанию из схемы тоже приводится, а если не приводится,
// возвращается как есть.
func (s *Store) Get(module, key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, hasSchema := s.schemaEntry(module, key)
	if raw, ok := s.doc.CustomSettings[settingKey(module, key)]; ok && raw != nil {
		if !hasSchema {
			return raw
		}
		value, err := entry.Type.Coerce(raw)
		if err != nil {
			s.logger.Debug("Setting coercion failed, using default",
				zap.String("module", module),
				zap.String("key", key),
				zap.String("type", entry.Type.String()),
				zap.Error(err))
			return def
		}
		return value
	}
	if hasSchema && entry.Default != nil {
		value, err := entry.Type.Coerce(entry.Default)
		if err != nil {
			return entry.Default
		}
		return value
	}
	return def
}

// GetString возвращает строковое значение
func (s *Store) GetString(module, key, def string) string {
	if v, ok := s.Get(module, key, def).(string); ok {
		return v
	}
	return def
}

// GetInt возвращает целое значение
func (s *Store) GetInt(module, key string, def int) int {
	v, err := TypeInt.Coerce(s.Get(module, key, def))
	if err != nil {
		return def
	}
	return v.(int)
}

// GetFloat возвращает значение с плавающей точкой
func (s *Store) GetFloat(module, key string, def float64) float64 {
	v, err := TypeFloat.Coerce(s.Get(module, key, def))
	if err != nil {
		return def
	}
	return v.(float64)
}

// GetBool возвращает логическое значение
func (s *Store) GetBool(module, key string, def bool) bool {
	v, _ := TypeBool.Coerce(s.Get(module, key, def))
	return v.(bool)
}

// GetList возвращает список строк
func (s *Store) GetList(module, key string, def []string) []string {
	v, err := TypeList.Coerce(s.Get(module, key, def))
	if err != nil {
		return def
	}
	return v.([]string)
}

// Set записывает сырое значение настройки и синхронно сохраняет документ
func (s *Store) Set(module, key string, value any) error {
	return s.mutate("set", func(doc *Document) {
		doc.CustomSettings[settingKey(module, key)] = value
	})
}

// Remove удаляет пользовательское значение настройки
func (s *Store) Remove(module, key string) error {
	return s.mutate("remove", func(doc *Document) {
		delete(doc.CustomSettings, settingKey(module, key))
	})
}

// Reset удаляет все пользовательские значения модуля
func (s *Store) Reset(module string) (int, error) {
	removed := 0
	err := s.mutate("reset", func(doc *Document) {
		prefix := module + "."
		for k := range doc.CustomSettings {
			if strings.HasPrefix(k, prefix) {
				delete(doc.CustomSettings, k)
				removed++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// IsCustom сообщает, задано ли пользовательское значение
func (s *Store) IsCustom(module, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.CustomSettings[settingKey(module, key)]
	return ok
}

// ModuleSettings возвращает эффективные значения всех ключей схемы модуля
// и всех пользовательских ключей без схемы
func (s *Store) ModuleSettings(module string) map[string]any {
	s.mu.RLock()
	keys := make([]string, 0)
	for _, entry := range s.schemas[module] {
		keys = append(keys, entry.Key)
	}
	prefix := module + "."
	for k := range s.doc.CustomSettings {
		if strings.HasPrefix(k, prefix) {
			key := strings.TrimPrefix(k, prefix)
			if !slices.Contains(keys, key) {
				keys = append(keys, key)
			}
		}
	}
	s.mu.RUnlock()

	out := make(map[string]any, len(keys))
	for _, key := range keys {
		out[key] = s.Get(module, key, nil)
	}
	return out
}

// Prefix возвращает текущий префикс команд
func (s *Store) Prefix() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Prefix
}

// SetPrefix меняет префикс команд
func (s *Store) SetPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("prefix must not be empty")
	}
	return s.mutate("set_prefix", func(doc *Document) {
		doc.Prefix = prefix
	})
}

// BotToken возвращает токен, сохраненный в документе
func (s *Store) BotToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.BotToken
}

// OwnerID возвращает ID владельца
func (s *Store) OwnerID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.OwnerID
}

// SetOwnerID сохраняет ID владельца
func (s *Store) SetOwnerID(id int64) error {
	return s.mutate("set_owner", func(doc *Document) {
		doc.OwnerID = id
	})
}

// IsDisabled сообщает, отключен ли модуль
func (s *Store) IsDisabled(module string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.doc.DisabledModules, module)
}

// DisabledModules возвращает отсортированный список отключенных модулей
func (s *Store) DisabledModules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.doc.DisabledModules...)
	sort.Strings(out)
	return out
}

// SetDisabled включает или отключает модуль
func (s *Store) SetDisabled(module string, disabled bool) error {
	return s.mutate("set_disabled", func(doc *Document) {
		idx := slices.Index(doc.DisabledModules, module)
		switch {
		case disabled && idx < 0:
			doc.DisabledModules = append(doc.DisabledModules, module)
		case !disabled && idx >= 0:
			doc.DisabledModules = slices.Delete(doc.DisabledModules, idx, idx+1)
		}
	})
}

// ToggleDisabled переключает состояние модуля и возвращает новое значение
func (s *Store) ToggleDisabled(module string) (bool, error) {
	disabled := !s.IsDisabled(module)
	if err := s.SetDisabled(module, disabled); err != nil {
		return !disabled, err
	}
	return disabled, nil
}

// RecordInstall сохраняет происхождение установленного модуля
func (s *Store) RecordInstall(module string, inst Installation) error {
	if inst.InstalledAt.IsZero() {
		inst.InstalledAt = time.Now().UTC()
	}
	return s.mutate("record_install", func(doc *Document) {
		doc.InstalledModules[module] = inst
	})
}

// ForgetInstall удаляет запись об установке
func (s *Store) ForgetInstall(module string) error {
	s.mu.RLock()
	_, ok := s.doc.InstalledModules[module]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.mutate("forget_install", func(doc *Document) {
		delete(doc.InstalledModules, module)
	})
}

// Installation возвращает запись об установке модуля
func (s *Store) Installation(module string) (Installation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.doc.InstalledModules[module]
	return inst, ok
}

// Installations возвращает копию всех записей об установке
func (s *Store) Installations() map[string]Installation {
	snapshot := s.Snapshot()
	return snapshot.InstalledModules
}

// IncrementCommandsUsed увеличивает счетчик команд и возвращает новое значение
func (s *Store) IncrementCommandsUsed() (int64, error) {
	var value int64
	err := s.mutate("increment_commands", func(doc *Document) {
		doc.Stats.CommandsUsed++
		value = doc.Stats.CommandsUsed
	})
	return value, err
}

// Stats возвращает счетчики использования
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Stats
}

// Snapshot возвращает копию документа
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

// SetInput разбирает ввод пользователя по схеме модуля и сохраняет его.
// Ключ без схемы сохраняется строкой.
func (s *Store) SetInput(module, key, input string) (any, error) {
	var value any = strings.TrimSpace(input)
	if entry, ok := s.lookupSchema(module, key); ok {
		parsed, err := entry.Type.ParseInput(input)
		if err != nil {
			return nil, fmt.Errorf("value does not match type %s: %w", entry.Type, err)
		}
		value = parsed
	}
	if err := s.Set(module, key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) lookupSchema(module, key string) (Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemaEntry(module, key)
}
