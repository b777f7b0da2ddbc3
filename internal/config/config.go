// Package config содержит загрузку и валидацию конфигурации.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию процесса
type Config struct {
	// Telegram
	BotToken string
	OwnerID  int64

	// Settings document
	SettingsPath string
	SettingsDSN  string
	DebugSQL     bool

	// Modules
	ModulesDir    string
	DefaultPrefix string

	// Package manager
	Packages PackagesConfig

	// URL installs
	Fetch FetchConfig

	// Dispatcher
	RateLimitRequests int
	RateLimitWindow   time.Duration
	LoopQueueSize     int

	// Health
	HealthPort         string
	HealthCheckEnabled bool

	// Logging
	LogLevel string
	LogPath  string

	// App Data Directory
	AppDataDir string
}

// PackagesConfig представляет конфигурацию менеджера пакетов
type PackagesConfig struct {
	Binary         string
	Tree           string
	LuaVersion     string
	InstallTimeout time.Duration
}

// FetchConfig представляет конфигурацию загрузки модулей по URL
type FetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	Retry    RetryConfig
}

// RetryConfig представляет конфигурацию retry механизма
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	dataDir := getEnv("APP_DATA_DIR", "./data")

	config := &Config{
		BotToken:      getEnv("BOT_TOKEN", ""),
		OwnerID:       getEnvInt64("OWNER_ID", 0),
		SettingsPath:  getEnv("SETTINGS_PATH", filepath.Join(dataDir, "kub_config.json")),
		SettingsDSN:   getEnv("SETTINGS_DSN", ""),
		DebugSQL:      getEnvBool("DEBUG_SQL", false),
		ModulesDir:    getEnv("MODULES_DIR", "modules"),
		DefaultPrefix: getEnv("DEFAULT_PREFIX", "."),
		Packages: PackagesConfig{
			Binary:         getEnv("LUAROCKS_BIN", "luarocks"),
			Tree:           getEnv("ROCKS_TREE", filepath.Join(dataDir, "rocks")),
			LuaVersion:     getEnv("LUA_VERSION", "5.1"),
			InstallTimeout: getEnvDuration("INSTALL_TIMEOUT", 120*time.Second),
		},
		Fetch: FetchConfig{
			Timeout:  getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			MaxBytes: getEnvInt64("FETCH_MAX_BYTES", 5*1024*1024),
			Retry: RetryConfig{
				MaxRetries:        getEnvInt("FETCH_MAX_RETRIES", 2),
				InitialDelay:      getEnvDuration("FETCH_INITIAL_DELAY", 500*time.Millisecond),
				MaxDelay:          getEnvDuration("FETCH_MAX_DELAY", 5*time.Second),
				BackoffMultiplier: getEnvFloat("FETCH_BACKOFF_MULTIPLIER", 2.0),
			},
		},
		RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		LoopQueueSize:      getEnvInt("LOOP_QUEUE_SIZE", 256),
		HealthPort:         getEnv("HEALTH_PORT", "8080"),
		HealthCheckEnabled: getEnvBool("HEALTH_CHECK_ENABLED", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPath:            getEnv("LOG_PATH", ""),
		AppDataDir:         dataDir,
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.SettingsPath == "" && c.SettingsDSN == "" {
		return fmt.Errorf("SETTINGS_PATH or SETTINGS_DSN is required")
	}

	if c.ModulesDir == "" {
		return fmt.Errorf("MODULES_DIR is required")
	}

	if c.Packages.Binary == "" {
		return fmt.Errorf("LUAROCKS_BIN is required")
	}

	if c.Packages.InstallTimeout <= 0 {
		return fmt.Errorf("INSTALL_TIMEOUT must be positive")
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}

	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("FETCH_MAX_BYTES must be positive")
	}

	if c.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative")
	}

	if c.LoopQueueSize <= 0 {
		return fmt.Errorf("LOOP_QUEUE_SIZE must be positive")
	}

	if c.HealthCheckEnabled {
		port, err := strconv.Atoi(c.HealthPort)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("HEALTH_PORT is invalid: %q", c.HealthPort)
		}
	}

	return nil
}

// GetAppDataDir возвращает директорию данных приложения
func (c *Config) GetAppDataDir() string {
	return c.AppDataDir
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает переменную окружения как int
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 получает переменную окружения как int64
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения как time.Duration
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool получает переменную окружения как bool
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat получает переменную окружения как float64
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
