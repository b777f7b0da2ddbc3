// Package health содержит health check сервер.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const checkTimeout = 3 * time.Second

// Server представляет health check сервер
type Server struct {
	server  *http.Server
	storage StorageInterface
	modules ModulesInterface
	stats   StatsInterface
	ready   atomic.Bool
	logger  *zap.Logger
}

// NewServer создает новый health check сервер. stats может быть nil.
func NewServer(port string, logger *zap.Logger, storage StorageInterface, modules ModulesInterface, stats StatsInterface) *Server {
	mux := http.NewServeMux()

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthServer := &Server{
		server:  server,
		storage: storage,
		modules: modules,
		stats:   stats,
		logger:  logger,
	}

	// Регистрируем маршруты
	mux.HandleFunc("/health", healthServer.healthHandler)
	mux.HandleFunc("/ready", healthServer.readyHandler)
	mux.HandleFunc("/live", healthServer.liveHandler)

	return healthServer
}

// Handler возвращает обработчик маршрутов
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetReady отмечает, что модули загружены и бот принимает события
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start запускает health check сервер
func (s *Server) Start() error {
	s.logger.Info("Starting health check server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop останавливает health check сервер
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping health check server")
	return s.server.Shutdown(ctx)
}

// healthHandler обрабатывает запросы /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	// Проверяем хранилище настроек
	if err := s.checkStorage(r.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		s.logger.Error("Health check failed", zap.Error(err))
	}

	body := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s.modules != nil {
		active, builtin := s.modules.Stats()
		body["modules"] = map[string]int{
			"active":  active,
			"builtin": builtin,
			"user":    active - builtin,
		}
	}
	if s.stats != nil {
		body["metrics"] = s.stats.GetStats()
	}
	s.writeJSON(w, code, body)
}

// readyHandler обрабатывает запросы /ready
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	code := http.StatusOK

	// Проверяем готовность к работе
	if err := s.checkReadiness(r.Context()); err != nil {
		status = "not ready"
		code = http.StatusServiceUnavailable
		s.logger.Warn("Readiness check failed", zap.Error(err))
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// liveHandler обрабатывает запросы /live
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write health response", zap.Error(err))
	}
}

// checkStorage проверяет хранилище настроек
func (s *Server) checkStorage(ctx context.Context) error {
	if s.storage == nil {
		return fmt.Errorf("settings storage is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := s.storage.Ping(ctx); err != nil {
		return fmt.Errorf("settings storage check failed: %w", err)
	}
	return nil
}

// checkReadiness проверяет готовность к работе
func (s *Server) checkReadiness(ctx context.Context) error {
	if !s.ready.Load() {
		return fmt.Errorf("modules are not loaded yet")
	}

	if s.modules != nil {
		if _, builtin := s.modules.Stats(); builtin == 0 {
			return fmt.Errorf("built-in modules are not registered")
		}
	}

	if err := s.checkStorage(ctx); err != nil {
		return fmt.Errorf("storage is not ready: %w", err)
	}

	return nil
}
