// Package worker implements the branch execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/metrics"
	"github.com/JakeFAU/intel-archiver/internal/pipeline"
	"github.com/JakeFAU/intel-archiver/internal/queue"
)

const defaultErrorBackoff = time.Second

// Source yields queued messages.
type Source interface {
	Dequeue(ctx context.Context) (queue.Message, error)
}

// TaskExecutor runs one branch task.
type TaskExecutor interface {
	Execute(ctx context.Context, task pipeline.BranchTask) (pipeline.BranchResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes branch tasks and executes them one at a time.
type Worker struct {
	source   Source
	executor TaskExecutor
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(source Source, executor TaskExecutor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:   source,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming messages until the context finishes or the queue is
// closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Debug("worker stopping", zap.Error(err))
				return nil
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.process(ctx, msg)
	}
}

func (w *Worker) process(ctx context.Context, msg queue.Message) {
	task, err := pipeline.DecodeTask(msg)
	if err != nil {
		// Redelivery cannot fix a malformed task.
		w.logger.Error("dropping undecodable task", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	log := w.logger.With(zap.String("run_id", task.RunID), zap.String("branch_id", task.BranchID))
	log.Debug("dequeued branch", zap.String("message_id", msg.ID))

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result, err := w.executor.Execute(queue.ExtractTrace(ctx, msg), task)
	if err != nil {
		log.Warn("branch failed", zap.String("outcome", result.Outcome), zap.Error(err))
	}
	if pipeline.Interrupted(ctx, result) {
		// Shutdown interrupted the branch; let another worker pick it up.
		msg.Nack()
		return
	}
	msg.Ack()
}
