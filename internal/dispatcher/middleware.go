package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"kubot/internal/metrics"
	"kubot/internal/module"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited запрос отклонен ограничителем
var ErrRateLimited = errors.New("rate limit exceeded")

// Handler вызов команды внутри цепочки
type Handler func(ctx context.Context, cmd *module.Command, ev *module.Event) error

// Middleware оборачивает вызов команды
type Middleware func(next Handler) Handler

// Chain собирает цепочку: первый middleware внешний
func Chain(final Handler, mws ...Middleware) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recovery превращает панику обработчика в ошибку
func Recovery(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd *module.Command, ev *module.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					stack := string(debug.Stack())
					logger.Error("Panic recovered in command handler",
						zap.String("command", cmd.Name),
						zap.String("module", cmd.Module),
						zap.Int64("chat_id", ev.ChatID),
						zap.Int64("user_id", ev.SenderID),
						zap.Any("panic", r),
						zap.String("stack", stack))
					err = &module.PanicError{Value: r, Stack: stack}
				}
			}()
			return next(ctx, cmd, ev)
		}
	}
}

// Logging логирует начало и завершение команды
func Logging(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd *module.Command, ev *module.Event) error {
			start := time.Now()
			requestID := fmt.Sprintf("%d-%d-%d", ev.ChatID, ev.MessageID, start.UnixNano())

			logger.Info("Processing command",
				zap.String("request_id", requestID),
				zap.String("command", cmd.Name),
				zap.String("module", cmd.Module),
				zap.Int64("user_id", ev.SenderID),
				zap.Int64("chat_id", ev.ChatID))

			err := next(ctx, cmd, ev)

			duration := time.Since(start)
			switch {
			case errors.Is(err, ErrRateLimited):
			case err != nil:
				logger.Error("Command completed with error",
					zap.String("request_id", requestID),
					zap.String("command", cmd.Name),
					zap.Duration("duration", duration),
					zap.Error(err))
			default:
				logger.Info("Command completed successfully",
					zap.String("request_id", requestID),
					zap.String("command", cmd.Name),
					zap.Duration("duration", duration))
			}
			return err
		}
	}
}

// Metrics учитывает команды, время ответа и ошибки
func Metrics(m metrics.Interface) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd *module.Command, ev *module.Event) error {
			start := time.Now()
			err := next(ctx, cmd, ev)
			switch {
			case errors.Is(err, ErrRateLimited):
				m.RecordRateLimited()
				return err
			case err != nil:
				m.RecordError()
			}
			m.RecordCommand(cmd.Name, cmd.Module, ev.SenderID)
			m.RecordResponseTime(time.Since(start))
			return err
		}
	}
}

// RateLimiter ограничивает частоту команд для каждого отправителя
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
	exempt   func(userID int64) bool
	logger   *zap.Logger
}

// NewRateLimiter создает ограничитель: requests команд за window
func NewRateLimiter(requests int, window time.Duration, exempt func(userID int64) bool, logger *zap.Logger) *RateLimiter {
	limit := rate.Inf
	if requests > 0 && window > 0 {
		limit = rate.Every(window / time.Duration(requests))
	}
	return &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    limit,
		burst:    max(requests, 1),
		exempt:   exempt,
		logger:   logger,
	}
}

// Allow проверяет, разрешен ли запрос
func (rl *RateLimiter) Allow(userID int64) bool {
	if rl.exempt != nil && rl.exempt(userID) {
		return true
	}

	rl.mu.Lock()
	limiter, ok := rl.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[userID] = limiter
	}
	rl.mu.Unlock()

	if !limiter.Allow() {
		rl.logger.Warn("Rate limit exceeded", zap.Int64("user_id", userID))
		return false
	}
	return true
}

// Cleanup удаляет ограничители, у которых восстановился полный запас
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, limiter := range rl.limiters {
		if limiter.Tokens() >= float64(rl.burst) {
			delete(rl.limiters, userID)
		}
	}
}

// Middleware отклоняет команду, если лимит исчерпан
func (rl *RateLimiter) Middleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd *module.Command, ev *module.Event) error {
			if !rl.Allow(ev.SenderID) {
				return ErrRateLimited
			}
			return next(ctx, cmd, ev)
		}
	}
}
