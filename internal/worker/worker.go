// Package worker реализует пул воркеров. Пул из одного воркера служит общим
// событийным циклом: обработчики модулей выполняются на нем по очереди.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool пул воркеров для обработки задач
type Pool struct {
	workers  int
	jobQueue chan Job
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.Logger
	metrics  Metrics
	metMu    sync.RWMutex
	stopOnce sync.Once
	stopped  bool
	mu       sync.RWMutex
}

// Убеждаемся, что Pool реализует PoolInterface
var _ PoolInterface = (*Pool)(nil)

// Job представляет задачу для обработки
type Job struct {
	Name    string
	Module  string
	UserID  int64
	Handler func(ctx context.Context) error
}

// Metrics метрики воркер пула
type Metrics struct {
	ProcessedJobs  int64
	FailedJobs     int64
	PanickedJobs   int64
	ProcessingTime time.Duration
	QueueSize      int
}

// Ошибки
var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// NewWorkerPool создает новый пул воркеров
func NewWorkerPool(workers int, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// NewLoop создает событийный цикл: пул с одним воркером
func NewLoop(queueSize int, logger *zap.Logger) *Pool {
	return NewWorkerPool(1, queueSize, logger)
}

// Start запускает пул воркеров
func (wp *Pool) Start() {
	wp.logger.Info("Starting worker pool", zap.Int("workers", wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop останавливает пул; задачи, уже стоящие в очереди, дорабатываются
func (wp *Pool) Stop() {
	wp.logger.Info("Stopping worker pool")

	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.stopped = true
		wp.mu.Unlock()
		close(wp.jobQueue)
	})

	wp.wg.Wait()
	wp.cancel()
	wp.logger.Info("Worker pool stopped")
}

// Submit добавляет задачу в очередь без ожидания
func (wp *Pool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return ErrPoolStopped
	}

	select {
	case wp.jobQueue <- job:
		wp.metMu.Lock()
		wp.metrics.QueueSize = len(wp.jobQueue)
		wp.metMu.Unlock()
		return nil
	default:
		return ErrQueueFull
	}
}

// Do ставит задачу в очередь и ждет ее завершения.
// Вызов Do из задачи этого же цикла приводит к взаимоблокировке.
func (wp *Pool) Do(ctx context.Context, job Job) error {
	done := make(chan error, 1)
	handler := job.Handler
	job.Handler = func(jobCtx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("job %s panicked: %v", job.Name, r)
				panic(r)
			}
		}()
		err := handler(jobCtx)
		done <- err
		return err
	}

	if err := wp.Submit(job); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker основной цикл воркера
func (wp *Pool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Worker started", zap.Int("worker_id", id))

	for job := range wp.jobQueue {
		wp.processJob(job, id)
	}

	wp.logger.Debug("Worker stopping", zap.Int("worker_id", id))
}

// processJob обрабатывает задачу; паника задачи не останавливает воркер
func (wp *Pool) processJob(job Job, workerID int) {
	startTime := time.Now()

	wp.logger.Debug("Processing job",
		zap.Int("worker_id", workerID),
		zap.String("job", job.Name),
		zap.String("module", job.Module),
		zap.Int64("user_id", job.UserID))

	err := wp.run(job)
	duration := time.Since(startTime)

	wp.metMu.Lock()
	wp.metrics.QueueSize = len(wp.jobQueue)
	if err != nil {
		wp.metrics.FailedJobs++
	} else {
		wp.metrics.ProcessedJobs++
	}
	wp.metrics.ProcessingTime += duration
	wp.metMu.Unlock()

	if err != nil {
		wp.logger.Error("Job processing failed",
			zap.Int("worker_id", workerID),
			zap.String("job", job.Name),
			zap.String("module", job.Module),
			zap.Int64("user_id", job.UserID),
			zap.Error(err))
		return
	}

	wp.logger.Debug("Job processed successfully",
		zap.Int("worker_id", workerID),
		zap.String("job", job.Name),
		zap.Duration("duration", duration))
}

func (wp *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("Panic recovered in job",
				zap.String("job", job.Name),
				zap.String("module", job.Module),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			wp.metMu.Lock()
			wp.metrics.PanickedJobs++
			wp.metMu.Unlock()
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Handler(wp.ctx)
}

// GetMetrics возвращает текущие метрики
func (wp *Pool) GetMetrics() Metrics {
	wp.metMu.RLock()
	defer wp.metMu.RUnlock()
	return wp.metrics
}

// GetQueueSize возвращает текущий размер очереди
func (wp *Pool) GetQueueSize() int {
	return len(wp.jobQueue)
}
