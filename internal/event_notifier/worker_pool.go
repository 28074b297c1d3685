package event_notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Task is one unit of fan-out work for a single event.
type Task func(ctx context.Context) error

// WorkerPool bounds how many deliveries run at once across all events.
type WorkerPool struct {
	pool   *ants.Pool
	logger *slog.Logger
}

func NewWorkerPool(size int, logger *slog.Logger) (*WorkerPool, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &WorkerPool{pool: pool, logger: logger}, nil
}

// Run submits every task and waits for all of them. The result joins the
// errors of the tasks that failed or could not be submitted.
func (w *WorkerPool) Run(ctx context.Context, tasks ...Task) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, task := range tasks {
		task := task
		wg.Add(1)
		err := w.pool.Submit(func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				record(err)
			}
		})
		if err != nil {
			wg.Done()
			w.logger.Error("Failed to submit task to worker pool", "error", err)
			record(err)
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Shutdown releases the pool's workers.
func (w *WorkerPool) Shutdown() {
	w.logger.Info("Shutting down worker pool", "running_workers", w.pool.Running())
	w.pool.Release()
}

func (w *WorkerPool) Running() int {
	return w.pool.Running()
}

func (w *WorkerPool) Capacity() int {
	return w.pool.Cap()
}
