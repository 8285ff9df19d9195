package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/task"
)

// DefaultPollTimeout bounds each blocking pop so cancellation is noticed.
const DefaultPollTimeout = time.Second

// Consumer pops jobs from a set of queues and runs them with an executor.
// Jobs waiting for an ETA stay in the broker's delayed sets and never hold up
// the jobs queued behind them.
type Consumer struct {
	broker      *Broker
	executor    task.Executor
	queues      []string
	pollTimeout time.Duration
	logger      *slog.Logger

	// errorHandler is called when a job fails. If nil, errors are only logged.
	errorHandler func(j *job.Job, err error)
}

// NewConsumer creates a consumer for queues. Earlier queues are served first
// when several have jobs ready.
func NewConsumer(broker *Broker, executor task.Executor, queues []string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(queues) == 0 {
		queues = []string{broker.defaultQueue}
	}
	return &Consumer{
		broker:      broker,
		executor:    executor,
		queues:      queues,
		pollTimeout: DefaultPollTimeout,
		logger:      logger.With("component", "redis_consumer", "queues", queues),
	}
}

// SetPollTimeout overrides DefaultPollTimeout. It also bounds how late a
// delayed job may start after its ETA.
func (c *Consumer) SetPollTimeout(d time.Duration) {
	c.pollTimeout = d
}

// SetErrorHandler sets the callback invoked when a job fails.
func (c *Consumer) SetErrorHandler(handler func(j *job.Job, err error)) {
	c.errorHandler = handler
}

// Run consumes jobs until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return nil
		}

		if _, err := c.broker.PromoteDue(ctx, c.queues...); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to promote due jobs", "error", err)
		}

		env, err := c.broker.Pop(ctx, c.pollTimeout, c.queues...)
		switch {
		case errors.Is(err, ErrNoJob):
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to pop job", "error", err)
			sleepCtx(ctx, c.pollTimeout)
			continue
		}

		c.handle(ctx, env)
	}
}

func (c *Consumer) handle(ctx context.Context, env *job.Envelope) {
	j := env.Job
	logger := c.logger.With("job_id", j.ID, "job_name", j.Name, "queue", j.Options.Queue)

	// A job pushed straight onto a list ahead of its ETA goes back to the
	// delayed set.
	if env.ETA != nil && env.ETA.After(c.broker.now()) {
		logger.Debug("job not yet due, rescheduling", "eta", env.ETA)
		if err := c.broker.Requeue(context.WithoutCancel(ctx), env); err != nil {
			logger.Error("failed to reschedule job", "error", err)
		}
		return
	}

	if err := c.executor.Execute(ctx, j); err != nil {
		logger.Error("job execution failed", "error", err)
		if c.errorHandler != nil {
			c.errorHandler(j, err)
		}
		return
	}
	logger.Debug("job completed successfully")
}

// sleepCtx waits for d and reports whether it elapsed before ctx was done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
