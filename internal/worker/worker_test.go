package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(2, 10, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	var results sync.Map
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		jobID := i

		err := pool.Submit(Job{
			Name:   "test",
			UserID: int64(jobID),
			Handler: func(context.Context) error {
				defer wg.Done()
				results.Store(jobID, true)
				return nil
			},
		})
		require.NoError(t, err)
	}

	wg.Wait()

	for i := 0; i < 5; i++ {
		_, ok := results.Load(i)
		assert.True(t, ok, "job %d was not processed", i)
	}
}

func TestLoop_RunsJobsSequentially(t *testing.T) {
	loop := NewLoop(16, zap.NewNop())
	loop.Start()

	var mu sync.Mutex
	var order []int
	active := 0
	maxActive := 0

	for i := 0; i < 10; i++ {
		n := i
		require.NoError(t, loop.Submit(Job{Name: "seq", Handler: func(context.Context) error {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			order = append(order, n)
			active--
			mu.Unlock()
			return nil
		}}))
	}

	loop.Stop()

	assert.Equal(t, 1, maxActive)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	assert.Equal(t, int64(10), loop.GetMetrics().ProcessedJobs)
}

func TestPool_Do(t *testing.T) {
	loop := NewLoop(4, zap.NewNop())
	loop.Start()
	defer loop.Stop()

	err := loop.Do(context.Background(), Job{Name: "ok", Handler: func(context.Context) error { return nil }})
	assert.NoError(t, err)

	want := errors.New("boom")
	err = loop.Do(context.Background(), Job{Name: "fail", Handler: func(context.Context) error { return want }})
	assert.ErrorIs(t, err, want)
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	loop := NewLoop(4, zap.NewNop())
	loop.Start()
	defer loop.Stop()

	err := loop.Do(context.Background(), Job{Name: "panic", Handler: func(context.Context) error { panic("bad module") }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad module")

	err = loop.Do(context.Background(), Job{Name: "after", Handler: func(context.Context) error { return nil }})
	assert.NoError(t, err)

	m := loop.GetMetrics()
	assert.Equal(t, int64(1), m.PanickedJobs)
	assert.Equal(t, int64(1), m.FailedJobs)
}

func TestPool_QueueFullAndStopped(t *testing.T) {
	pool := NewWorkerPool(1, 1, zap.NewNop())

	require.NoError(t, pool.Submit(Job{Name: "a", Handler: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, pool.Submit(Job{Name: "b", Handler: func(context.Context) error { return nil }}), ErrQueueFull)

	pool.Start()
	pool.Stop()
	assert.ErrorIs(t, pool.Submit(Job{Name: "c", Handler: func(context.Context) error { return nil }}), ErrPoolStopped)
}

func TestInline(t *testing.T) {
	called := false
	err := Inline{}.Submit(Job{Handler: func(context.Context) error { called = true; return nil }})
	assert.NoError(t, err)
	assert.True(t, called)
}
