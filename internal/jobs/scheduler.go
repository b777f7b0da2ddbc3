// Package jobs содержит планировщик периодических задач модулей.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kubot/internal/worker"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job описывает задачу модуля
type Job struct {
	ID     string
	Module string
	Spec   string
	Next   time.Time

	entry cron.EntryID
}

// Scheduler запускает задачи модулей по cron-расписанию через общий цикл
type Scheduler struct {
	cron   *cron.Cron
	loop   worker.Submitter
	logger *zap.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	running bool
}

// NewScheduler создает планировщик; поле секунд в расписании необязательно
func NewScheduler(loop worker.Submitter, logger *zap.Logger) *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithParser(parser)),
		loop:   loop,
		logger: logger,
		jobs:   make(map[string]*Job),
	}
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Job scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop останавливает планировщик и ждет запущенные вызовы
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Job scheduler stopped")
}

// Add регистрирует задачу модуля
func (s *Scheduler) Add(moduleName, spec string, fn func(ctx context.Context) error) (string, error) {
	id := uuid.NewString()

	entry, err := s.cron.AddFunc(spec, func() {
		s.fire(id, moduleName, fn)
	})
	if err != nil {
		return "", fmt.Errorf("failed to add job %q: %w", spec, err)
	}

	s.mu.Lock()
	s.jobs[id] = &Job{ID: id, Module: moduleName, Spec: spec, entry: entry}
	s.mu.Unlock()

	s.logger.Info("Added module job",
		zap.String("module", moduleName),
		zap.String("job_id", id),
		zap.String("cron_expression", spec))
	return id, nil
}

func (s *Scheduler) fire(id, moduleName string, fn func(ctx context.Context) error) {
	s.mu.RLock()
	_, alive := s.jobs[id]
	s.mu.RUnlock()
	if !alive {
		return
	}

	err := s.loop.Submit(worker.Job{
		Name:    "cron:" + id,
		Module:  moduleName,
		Handler: fn,
	})
	if err != nil {
		s.logger.Warn("Failed to schedule module job",
			zap.String("module", moduleName),
			zap.String("job_id", id),
			zap.Error(err))
	}
}

// Remove удаляет задачу
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if ok {
		s.cron.Remove(job.entry)
	}
	return ok
}

// RemoveModule удаляет все задачи модуля
func (s *Scheduler) RemoveModule(moduleName string) int {
	s.mu.Lock()
	var entries []cron.EntryID
	for id, job := range s.jobs {
		if job.Module == moduleName {
			entries = append(entries, job.entry)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, e := range entries {
		s.cron.Remove(e)
	}
	if len(entries) > 0 {
		s.logger.Info("Removed module jobs", zap.String("module", moduleName), zap.Int("count", len(entries)))
	}
	return len(entries)
}

// Jobs возвращает задачи модуля, пустое имя означает все задачи
func (s *Scheduler) Jobs(moduleName string) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if moduleName != "" && job.Module != moduleName {
			continue
		}
		j := *job
		j.Next = s.cron.Entry(job.entry).Next
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}
