package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/txtasks/internal/job"
)

// Backend is the receipt backend name reported by LocalDispatcher.
const Backend = "local"

// RunnerConfig holds configuration for the local dispatcher
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process jobs
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory job queue
	QueueSize int
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount: 2,
		QueueSize:   100,
	}
}

// LocalDispatcher runs jobs in-process. It implements job.Dispatcher by
// enqueueing onto a TaskQueue consumed by a WorkerPool.
type LocalDispatcher struct {
	registry *Registry
	queue    *TaskQueue
	pool     *WorkerPool
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	pending sync.WaitGroup
	stopped bool
}

// NewLocalDispatcher creates a dispatcher executing jobs against registry.
func NewLocalDispatcher(registry *Registry, config RunnerConfig, logger *slog.Logger) *LocalDispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultRunnerConfig().QueueSize
	}
	logger = logger.With("component", "local_dispatcher")

	queue := NewTaskQueue(config.QueueSize, logger)
	pool := NewWorkerPool(queue, registry, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)

	return &LocalDispatcher{
		registry: registry,
		queue:    queue,
		pool:     pool,
		logger:   logger,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// SetErrorHandler sets the callback invoked when a job handler fails.
func (d *LocalDispatcher) SetErrorHandler(handler func(j *job.Job, err error)) {
	d.pool.SetErrorHandler(handler)
}

// Start launches the worker pool.
func (d *LocalDispatcher) Start() {
	d.pool.Start()
}

// Dispatch validates j against the registry and queues it. Jobs with a
// countdown are queued once the countdown elapses.
func (d *LocalDispatcher) Dispatch(ctx context.Context, j *job.Job) (*job.Receipt, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	if _, ok := d.registry.Lookup(j.Name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, j.Name)
	}

	now := time.Now().UTC()
	receipt := &job.Receipt{
		JobID:      j.ID,
		Queue:      j.Options.Queue,
		Backend:    Backend,
		EnqueuedAt: now,
	}

	if j.Options.Countdown > 0 {
		if err := d.schedule(j); err != nil {
			return nil, err
		}
		return receipt, nil
	}

	if err := d.queue.Enqueue(j); err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", j.Name, err)
	}
	return receipt, nil
}

func (d *LocalDispatcher) schedule(j *job.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrQueueClosed
	}

	d.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(j.Options.Countdown, func() {
		defer d.pending.Done()

		d.mu.Lock()
		delete(d.timers, timer)
		d.mu.Unlock()

		if err := d.queue.Enqueue(j); err != nil {
			d.logger.Error("failed to enqueue delayed job",
				"job_id", j.ID,
				"job_name", j.Name,
				"error", err)
		}
	})
	d.timers[timer] = struct{}{}

	d.logger.Debug("job scheduled", "job_id", j.ID, "job_name", j.Name, "countdown", j.Options.Countdown)
	return nil
}

// Stop stops accepting jobs, cancels timers that have not fired, and waits
// for queued jobs to drain or for ctx to expire.
func (d *LocalDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	for timer := range d.timers {
		if timer.Stop() {
			d.pending.Done()
		}
		delete(d.timers, timer)
	}
	d.mu.Unlock()

	// Timers already running must finish before the queue closes.
	d.pending.Wait()
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("local dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.pool.Stop()
		return fmt.Errorf("local dispatcher shutdown: %w", ctx.Err())
	}
}
