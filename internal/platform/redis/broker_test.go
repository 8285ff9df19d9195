package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/txtasks/internal/job"
)

// setupTestRedis creates a miniredis server and a client connected to it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJob(t *testing.T, name string, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := job.New(name, opts...)
	require.NoError(t, err)
	return j
}

func TestBroker_Dispatch(t *testing.T) {
	mr, client := setupTestRedis(t)
	broker := NewBroker(client, WithKeyPrefix("test"), WithLogger(testLogger()))
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	broker.now = func() time.Time { return fixed }

	j := newTestJob(t, "send_email", job.WithQueue("mail"), job.WithArgs("a@example.com"))
	receipt, err := broker.Dispatch(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, j.ID, receipt.JobID)
	assert.Equal(t, "mail", receipt.Queue)
	assert.Equal(t, Backend, receipt.Backend)
	assert.Equal(t, fixed, receipt.EnqueuedAt)

	items, err := mr.List("test:mail")
	require.NoError(t, err)
	require.Len(t, items, 1)

	env, err := job.UnmarshalEnvelope([]byte(items[0]))
	require.NoError(t, err)
	assert.Equal(t, j.ID, env.Job.ID)
	assert.Equal(t, []any{"a@example.com"}, env.Job.Args)
	assert.Nil(t, env.ETA)
}

func TestBroker_DispatchDefaultQueue(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithDefaultQueue("fallback"), WithLogger(testLogger()))

	j := &job.Job{Name: "unrouted"}
	receipt, err := broker.Dispatch(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, "fallback", receipt.Queue)
	assert.Empty(t, j.Options.Queue, "caller's job is not modified")

	n, err := broker.Len(context.Background(), "fallback")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBroker_DispatchInvalidJob(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))

	_, err := broker.Dispatch(context.Background(), &job.Job{})
	assert.ErrorIs(t, err, job.ErrInvalidJob)
}

func TestBroker_DispatchConnectionError(t *testing.T) {
	mr, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	mr.Close()

	_, err := broker.Dispatch(context.Background(), newTestJob(t, "task"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis: push job task")
}

func TestBroker_CountdownParksJobInDelayedSet(t *testing.T) {
	mr, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	broker.now = func() time.Time { return now }

	_, err := broker.Dispatch(ctx, newTestJob(t, "later", job.WithCountdown(time.Minute)))
	require.NoError(t, err)

	ready, err := broker.Len(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Zero(t, ready)
	delayed, err := broker.Delayed(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
	assert.True(t, mr.Exists("txtasks:default:delayed"))

	moved, err := broker.PromoteDue(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Zero(t, moved, "not due yet")

	now = now.Add(time.Minute)
	moved, err = broker.PromoteDue(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	env, err := broker.Pop(ctx, time.Second, job.DefaultQueue)
	require.NoError(t, err)
	require.NotNil(t, env.ETA)
	assert.Equal(t, env.EnqueuedAt.Add(time.Minute), *env.ETA)

	delayed, err = broker.Delayed(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestBroker_PromoteDueOrdersByETA(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	broker.now = func() time.Time { return now }

	_, err := broker.Dispatch(ctx, newTestJob(t, "second", job.WithCountdown(2*time.Second)))
	require.NoError(t, err)
	_, err = broker.Dispatch(ctx, newTestJob(t, "first", job.WithCountdown(time.Second)))
	require.NoError(t, err)

	now = now.Add(time.Hour)
	moved, err := broker.PromoteDue(ctx, job.DefaultQueue, "unused")
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	for _, want := range []string{"first", "second"} {
		env, err := broker.Pop(ctx, time.Second, job.DefaultQueue)
		require.NoError(t, err)
		assert.Equal(t, want, env.Job.Name)
	}
}

func TestBroker_RequeueRoutesByETA(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	ctx := context.Background()

	due := job.NewEnvelope(newTestJob(t, "due"), time.Now().Add(-time.Hour))
	require.NoError(t, broker.Requeue(ctx, due))

	future := job.NewEnvelope(newTestJob(t, "future", job.WithCountdown(time.Hour)), time.Now())
	require.NoError(t, broker.Requeue(ctx, future))

	ready, err := broker.Len(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready)
	delayed, err := broker.Delayed(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
}

func TestBroker_PopFIFO(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	ctx := context.Background()

	for _, name := range []string{"first", "second"} {
		_, err := broker.Dispatch(ctx, newTestJob(t, name))
		require.NoError(t, err)
	}

	n, err := broker.Len(ctx, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	env, err := broker.Pop(ctx, time.Second, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, "first", env.Job.Name)

	env, err = broker.Pop(ctx, time.Second, job.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, "second", env.Job.Name)
}

func TestBroker_PopEmpty(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))

	env, err := broker.Pop(context.Background(), time.Second, "empty")
	assert.Nil(t, env)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestBroker_PopMalformed(t *testing.T) {
	mr, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))

	_, err := mr.Push(broker.QueueKey("bad"), "not json")
	require.NoError(t, err)

	_, err = broker.Pop(context.Background(), time.Second, "bad")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode job envelope")
}

func TestBroker_PopAcrossQueues(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, WithLogger(testLogger()))
	ctx := context.Background()

	_, err := broker.Dispatch(ctx, newTestJob(t, "mail_job", job.WithQueue("mail")))
	require.NoError(t, err)
	_, err = broker.Dispatch(ctx, newTestJob(t, "urgent_job", job.WithQueue("urgent")))
	require.NoError(t, err)

	env, err := broker.Pop(ctx, time.Second, "urgent", "mail")
	require.NoError(t, err)
	assert.Equal(t, "urgent_job", env.Job.Name)

	env, err = broker.Pop(ctx, time.Second, "urgent", "mail")
	require.NoError(t, err)
	assert.Equal(t, "mail_job", env.Job.Name)
}

func TestBroker_QueueKeyAndPing(t *testing.T) {
	_, client := setupTestRedis(t)

	assert.Equal(t, "txtasks:mail", NewBroker(client).QueueKey("mail"))
	assert.Equal(t, "mail", NewBroker(client, WithKeyPrefix("")).QueueKey("mail"))
	assert.Equal(t, "txtasks:mail:delayed", NewBroker(client).DelayedKey("mail"))
	assert.NoError(t, NewBroker(client).Ping(context.Background()))
}

func TestETAScoreRoundsUp(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	assert.Equal(t, base.UnixMilli(), etaScore(base))
	assert.Equal(t, base.UnixMilli()+1, etaScore(base.Add(time.Microsecond)))
}
