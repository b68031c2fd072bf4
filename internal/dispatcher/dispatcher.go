// Package dispatcher runs queued loads on a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/queue"
)

const defaultWorkers = 4

// Runner executes one load under a caller-chosen ID.
type Runner interface {
	LoadWithID(ctx context.Context, id uuid.UUID, url string) (loader.Result, error)
}

// Dispatcher fans queue work out to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	runner  Runner
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher. A non-positive worker count uses the default.
func New(q queue.Queue, runner Runner, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until ctx ends or the queue is closed
// and drained. In-flight loads observe ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()
}

// Submit enqueues a job without waiting for capacity.
func (d *Dispatcher) Submit(id uuid.UUID, url string) error {
	err := d.queue.TryEnqueue(queue.Job{LoadID: id, URL: url, EnqueuedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Pending reports how many jobs wait for a worker.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	logger := d.logger.With(zap.Int("worker", worker))
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				logger.Warn("dequeue failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			logger.Info("dropping queued load on shutdown", zap.String("load_id", job.LoadID.String()))
			return
		}
		logger.Debug("starting queued load",
			zap.String("load_id", job.LoadID.String()),
			zap.Duration("queued_for", time.Since(job.EnqueuedAt)),
		)
		if _, err := d.runner.LoadWithID(ctx, job.LoadID, job.URL); err != nil {
			// The loader already logged and emitted the failure.
			logger.Debug("queued load finished with error",
				zap.String("load_id", job.LoadID.String()),
				zap.Error(err),
			)
		}
	}
}
