// Package dispatcher manages worker fan-out over the branch queue.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/intel-archiver/internal/queue"
	"github.com/JakeFAU/intel-archiver/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// NewPool creates n workers sharing q and executor.
func NewPool(q queue.Queue, executor worker.TaskExecutor, n int, cfg worker.Config, newLogger func(i int) *zap.Logger) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, worker.New(q, executor, cfg, newLogger(i)))
	}
	return New(q, workers)
}

// Run starts all workers and blocks until they have all returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, msg queue.Message) error {
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
