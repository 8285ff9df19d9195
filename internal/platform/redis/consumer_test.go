package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/task"
)

func runConsumer(t *testing.T, c *Consumer) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("consumer did not stop")
		}
	})
	return cancel
}

func TestConsumer_RunsJobs(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))

	ran := make(chan *job.Job, 1)
	registry := task.NewRegistry()
	require.NoError(t, registry.Register("send_email", func(ctx context.Context, j *job.Job) error {
		ran <- j
		return nil
	}))

	runConsumer(t, NewConsumer(broker, registry, nil, testLogger()))

	j := newTestJob(t, "send_email", job.WithKwargs(map[string]any{"to": "a@example.com"}))
	_, err := broker.Dispatch(context.Background(), j)
	require.NoError(t, err)

	select {
	case got := <-ran:
		assert.Equal(t, j.ID, got.ID)
		assert.Equal(t, "a@example.com", got.Kwargs["to"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestConsumer_ErrorHandler(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))

	failures := make(chan error, 1)
	c := NewConsumer(broker, task.NewRegistry(), nil, testLogger())
	c.SetErrorHandler(func(j *job.Job, err error) { failures <- err })
	runConsumer(t, c)

	_, err := broker.Dispatch(context.Background(), newTestJob(t, "unregistered"))
	require.NoError(t, err)

	select {
	case err := <-failures:
		assert.True(t, errors.Is(err, task.ErrUnknownJob))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error handler")
	}
}

func TestConsumer_HonorsETA(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))

	ran := make(chan time.Time, 1)
	registry := task.NewRegistry()
	require.NoError(t, registry.Register("later", func(ctx context.Context, j *job.Job) error {
		ran <- time.Now()
		return nil
	}))

	runConsumer(t, NewConsumer(broker, registry, nil, testLogger()))

	start := time.Now()
	_, err := broker.Dispatch(context.Background(), newTestJob(t, "later", job.WithCountdown(200*time.Millisecond)))
	require.NoError(t, err)

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 200*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestConsumer_DelayedJobDoesNotBlockReadyJobs(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	ctx := context.Background()

	ran := make(chan string, 2)
	registry := task.NewRegistry()
	for _, name := range []string{"later", "now"} {
		require.NoError(t, registry.Register(name, func(ctx context.Context, j *job.Job) error {
			ran <- j.Name
			return nil
		}))
	}

	_, err := broker.Dispatch(ctx, newTestJob(t, "later", job.WithCountdown(time.Hour)))
	require.NoError(t, err)
	_, err = broker.Dispatch(ctx, newTestJob(t, "now"))
	require.NoError(t, err)

	runConsumer(t, NewConsumer(broker, registry, nil, testLogger()))

	select {
	case name := <-ran:
		assert.Equal(t, "now", name)
	case <-time.After(5 * time.Second):
		t.Fatal("ready job was held up by a delayed one")
	}

	delayed, err := broker.Delayed(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed, "delayed job stays parked")
}

func TestConsumer_ReschedulesEarlyEnvelope(t *testing.T) {
	mr, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	ctx := context.Background()

	registry := task.NewRegistry()
	require.NoError(t, registry.Register("later", func(ctx context.Context, j *job.Job) error {
		t.Error("job should not run before its eta")
		return nil
	}))

	// Written straight onto the ready list, bypassing the delayed set.
	env := job.NewEnvelope(newTestJob(t, "later", job.WithCountdown(time.Hour)), time.Now())
	data, err := env.Marshal()
	require.NoError(t, err)
	_, err = mr.Push(broker.QueueKey(job.DefaultQueue), string(data))
	require.NoError(t, err)

	runConsumer(t, NewConsumer(broker, registry, nil, testLogger()))

	require.Eventually(t, func() bool {
		n, err := broker.Delayed(ctx, job.DefaultQueue)
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond, "early envelope moves to the delayed set")

	n, err := broker.Len(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConsumer_ServesEveryConfiguredQueue(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))

	ran := make(chan string, 2)
	registry := task.NewRegistry()
	require.NoError(t, registry.Register("ping", func(ctx context.Context, j *job.Job) error {
		ran <- j.Options.Queue
		return nil
	}))

	runConsumer(t, NewConsumer(broker, registry, []string{job.DefaultQueue, "emails"}, testLogger()))

	for _, q := range []string{"emails", job.DefaultQueue} {
		_, err := broker.Dispatch(context.Background(), newTestJob(t, "ping", job.WithQueue(q)))
		require.NoError(t, err)
	}

	got := make([]string, 0, 2)
	for range 2 {
		select {
		case q := <-ran:
			got = append(got, q)
		case <-time.After(5 * time.Second):
			t.Fatalf("only ran jobs from %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"emails", job.DefaultQueue}, got)
}
