package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Backend хранит сериализованный документ целиком
type Backend interface {
	// Load возвращает nil, nil если документ еще не сохранялся
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	// Ping проверяет доступность хранилища
	Ping(ctx context.Context) error
	Close() error
}

// FileBackend хранит документ в одном файле
type FileBackend struct {
	path string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend создает файловое хранилище
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path возвращает путь к файлу документа
func (b *FileBackend) Path() string {
	return b.path
}

// Ping проверяет, что каталог документа существует
func (b *FileBackend) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Dir(b.path))
	if err != nil {
		return fmt.Errorf("settings directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("settings directory %s is not a directory", filepath.Dir(b.path))
	}
	return nil
}

// Load читает файл документа
func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return data, nil
}

// Save перезаписывает файл через временный файл и rename
func (b *FileBackend) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// Close ничего не делает для файла
func (b *FileBackend) Close() error {
	return nil
}
