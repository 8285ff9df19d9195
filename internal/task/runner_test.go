package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/txtasks/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, j *job.Job) error { return nil }

	require.NoError(t, r.Register("b", noop))
	require.NoError(t, r.Register("a", noop))
	assert.ErrorIs(t, r.Register("a", noop), ErrDuplicateHandler)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	_, ok := r.Lookup("missing")
	assert.False(t, ok)

	err := r.Execute(context.Background(), newTestJob(t, "missing"))
	assert.ErrorIs(t, err, ErrUnknownJob)
}

// collector registers a handler that records executed job names.
type collector struct {
	mu    sync.Mutex
	names []string
	done  chan struct{}
}

func newCollector(t *testing.T, r *Registry, name string) *collector {
	c := &collector{done: make(chan struct{}, 10)}
	require.NoError(t, r.Register(name, func(ctx context.Context, j *job.Job) error {
		c.mu.Lock()
		c.names = append(c.names, j.Name)
		c.mu.Unlock()
		c.done <- struct{}{}
		return nil
	}))
	return c
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestLocalDispatcher_Dispatch(t *testing.T) {
	registry := NewRegistry()
	c := newCollector(t, registry, "send_email")

	d := NewLocalDispatcher(registry, DefaultRunnerConfig(), setupTestLogger())
	d.Start()
	defer func() { _ = d.Stop(context.Background()) }()

	j := newTestJob(t, "send_email", job.WithQueue("mail"))
	receipt, err := d.Dispatch(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, j.ID, receipt.JobID)
	assert.Equal(t, "mail", receipt.Queue)
	assert.Equal(t, Backend, receipt.Backend)

	c.wait(t)
	assert.Equal(t, []string{"send_email"}, c.names)
}

func TestLocalDispatcher_UnknownJob(t *testing.T) {
	d := NewLocalDispatcher(NewRegistry(), DefaultRunnerConfig(), setupTestLogger())

	receipt, err := d.Dispatch(context.Background(), newTestJob(t, "unregistered"))
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestLocalDispatcher_InvalidJob(t *testing.T) {
	d := NewLocalDispatcher(NewRegistry(), DefaultRunnerConfig(), setupTestLogger())

	_, err := d.Dispatch(context.Background(), &job.Job{})
	assert.ErrorIs(t, err, job.ErrInvalidJob)
}

func TestLocalDispatcher_QueueFull(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("task", func(ctx context.Context, j *job.Job) error { return nil }))

	// Not started, so nothing consumes the queue.
	d := NewLocalDispatcher(registry, RunnerConfig{WorkerCount: 1, QueueSize: 1}, setupTestLogger())

	_, err := d.Dispatch(context.Background(), newTestJob(t, "task"))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), newTestJob(t, "task"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestLocalDispatcher_Countdown(t *testing.T) {
	registry := NewRegistry()
	c := newCollector(t, registry, "later")

	d := NewLocalDispatcher(registry, DefaultRunnerConfig(), setupTestLogger())
	d.Start()
	defer func() { _ = d.Stop(context.Background()) }()

	start := time.Now()
	_, err := d.Dispatch(context.Background(), newTestJob(t, "later", job.WithCountdown(50*time.Millisecond)))
	require.NoError(t, err)

	c.wait(t)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLocalDispatcher_StopCancelsTimers(t *testing.T) {
	registry := NewRegistry()
	c := newCollector(t, registry, "never")

	d := NewLocalDispatcher(registry, DefaultRunnerConfig(), setupTestLogger())
	d.Start()

	_, err := d.Dispatch(context.Background(), newTestJob(t, "never", job.WithCountdown(time.Hour)))
	require.NoError(t, err)

	require.NoError(t, d.Stop(context.Background()))
	assert.Empty(t, c.names)

	_, err = d.Dispatch(context.Background(), newTestJob(t, "never", job.WithCountdown(time.Hour)))
	assert.ErrorIs(t, err, ErrQueueClosed)

	_, err = d.Dispatch(context.Background(), newTestJob(t, "never"))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestLocalDispatcher_StopDrainsQueue(t *testing.T) {
	registry := NewRegistry()
	c := newCollector(t, registry, "drain")

	d := NewLocalDispatcher(registry, RunnerConfig{WorkerCount: 1, QueueSize: 5}, setupTestLogger())
	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(context.Background(), newTestJob(t, "drain"))
		require.NoError(t, err)
	}

	d.Start()
	require.NoError(t, d.Stop(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.names, 3)
}

func TestLocalDispatcher_StopTimeout(t *testing.T) {
	registry := NewRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, registry.Register("slow", func(ctx context.Context, j *job.Job) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	d := NewLocalDispatcher(registry, RunnerConfig{WorkerCount: 1, QueueSize: 1}, setupTestLogger())
	d.Start()

	_, err := d.Dispatch(context.Background(), newTestJob(t, "slow"))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = d.Stop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	close(release)
}

func TestLocalDispatcher_ErrorHandler(t *testing.T) {
	registry := NewRegistry()
	handlerErr := errors.New("smtp down")
	require.NoError(t, registry.Register("send_email", func(ctx context.Context, j *job.Job) error {
		return handlerErr
	}))

	failed := make(chan error, 1)
	d := NewLocalDispatcher(registry, DefaultRunnerConfig(), setupTestLogger())
	d.SetErrorHandler(func(j *job.Job, err error) { failed <- err })
	d.Start()
	defer func() { _ = d.Stop(context.Background()) }()

	_, err := d.Dispatch(context.Background(), newTestJob(t, "send_email"))
	require.NoError(t, err)

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, handlerErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error handler")
	}
}
