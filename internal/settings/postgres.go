package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"go.uber.org/zap"
)

const defaultDocumentID = "main"

// settingsDocument одна строка с полным JSON-документом настроек
type settingsDocument struct {
	bun.BaseModel `bun:"table:settings_documents,alias:sd"`

	ID        string    `bun:"id,pk"`
	Body      string    `bun:"body,type:jsonb,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// PostgresBackend хранит документ в PostgreSQL
type PostgresBackend struct {
	db     *bun.DB
	id     string
	logger *zap.Logger
}

var _ Backend = (*PostgresBackend)(nil)

// PostgresOptions параметры подключения
type PostgresOptions struct {
	DSN        string
	DocumentID string
	Debug      bool
	MaxRetries int
	RetryDelay time.Duration
}

// NewPostgresBackend подключается к PostgreSQL с повторами и создает таблицу
func NewPostgresBackend(ctx context.Context, opts PostgresOptions, logger *zap.Logger) (*PostgresBackend, error) {
	if opts.DocumentID == "" {
		opts.DocumentID = defaultDocumentID
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		logger.Info("Attempting to connect to settings database",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", opts.MaxRetries))

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(opts.DSN)))
		sqldb.SetMaxOpenConns(4)
		sqldb.SetMaxIdleConns(2)
		sqldb.SetConnMaxLifetime(5 * time.Minute)

		db := bun.NewDB(sqldb, pgdialect.New())
		if opts.Debug {
			db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
				bundebug.FromEnv("BUNDEBUG"),
			))
		}

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		lastErr = db.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			backend := &PostgresBackend{db: db, id: opts.DocumentID, logger: logger}
			if err := backend.createSchema(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
			logger.Info("Connected to settings database", zap.Int("attempt", attempt))
			return backend, nil
		}

		logger.Warn("Failed to connect to settings database",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database connection", zap.Error(err))
		}

		if attempt < opts.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("failed to connect to settings database after %d attempts: %w", opts.MaxRetries, lastErr)
}

// Ping проверяет соединение с базой
func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("settings database ping failed: %w", err)
	}
	return nil
}

func (b *PostgresBackend) createSchema(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*settingsDocument)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create settings table: %w", err)
	}
	return nil
}

// Load читает документ
func (b *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	row := new(settingsDocument)
	err := b.db.NewSelect().
		Model(row).
		Where("id = ?", b.id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings document: %w", err)
	}
	return []byte(row.Body), nil
}

// Save перезаписывает документ целиком
func (b *PostgresBackend) Save(ctx context.Context, data []byte) error {
	row := &settingsDocument{
		ID:        b.id,
		Body:      string(data),
		UpdatedAt: time.Now(),
	}
	_, err := b.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("body = EXCLUDED.body").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save settings document: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой данных
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
