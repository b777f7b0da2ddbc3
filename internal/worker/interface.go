package worker

import "context"

// Submitter ставит задачи в очередь цикла
type Submitter interface {
	Submit(job Job) error
}

// PoolInterface определяет интерфейс пула воркеров
type PoolInterface interface {
	Submitter
	Start()
	Stop()
	Do(ctx context.Context, job Job) error
	GetMetrics() Metrics
	GetQueueSize() int
}

// Inline выполняет задачи сразу в вызывающей горутине
type Inline struct{}

var _ Submitter = Inline{}

// Submit выполняет задачу синхронно
func (Inline) Submit(job Job) error {
	return job.Handler(context.Background())
}
