package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/txtasks/internal/job"
)

// Backend is the receipt backend name reported by Broker.
const Backend = "redis"

// DefaultKeyPrefix prefixes every queue key unless WithKeyPrefix overrides it.
const DefaultKeyPrefix = "txtasks"

// promoteBatch bounds how many due jobs PromoteDue moves per queue per call.
const promoteBatch = 100

// ErrNoJob is returned by Pop when the queue stayed empty for the whole timeout.
var ErrNoJob = errors.New("no job available")

// Compile-time interface check.
var _ job.Dispatcher = (*Broker)(nil)

// Option configures the Broker.
type Option func(*Broker)

// WithKeyPrefix sets the prefix of queue keys.
func WithKeyPrefix(prefix string) Option {
	return func(b *Broker) { b.prefix = prefix }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithDefaultQueue sets the queue used for jobs that do not name one.
func WithDefaultQueue(queue string) Option {
	return func(b *Broker) { b.defaultQueue = queue }
}

// Broker pushes jobs onto Redis lists. The caller owns the Redis client
// lifecycle.
type Broker struct {
	client       goredis.Cmdable
	prefix       string
	defaultQueue string
	logger       *slog.Logger
	now          func() time.Time
}

// NewBroker creates a broker on client.
func NewBroker(client goredis.Cmdable, opts ...Option) *Broker {
	b := &Broker{
		client:       client,
		prefix:       DefaultKeyPrefix,
		defaultQueue: job.DefaultQueue,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With("component", "redis_broker")
	return b
}

// QueueKey returns the list key holding queue's ready jobs.
func (b *Broker) QueueKey(queue string) string {
	if b.prefix == "" {
		return queue
	}
	return b.prefix + ":" + queue
}

// DelayedKey returns the sorted set holding queue's jobs that wait for an
// ETA, scored by the ETA in unix milliseconds.
func (b *Broker) DelayedKey(queue string) string {
	return b.QueueKey(queue) + ":delayed"
}

// Ping verifies the Redis connection is alive.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Dispatch appends j to the tail of its queue. A job with a countdown is
// parked in the queue's delayed set until PromoteDue moves it over.
func (b *Broker) Dispatch(ctx context.Context, j *job.Job) (*job.Receipt, error) {
	if j.Options.Queue == "" {
		routed := *j
		routed.Options.Queue = b.defaultQueue
		j = &routed
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}

	env := job.NewEnvelope(j, b.now())
	if err := b.push(ctx, env); err != nil {
		return nil, err
	}

	return &job.Receipt{
		JobID:      j.ID,
		Queue:      j.Options.Queue,
		Backend:    Backend,
		EnqueuedAt: env.EnqueuedAt,
	}, nil
}

// Requeue puts a popped envelope back unchanged: onto the delayed set when
// its ETA is still ahead, otherwise onto the tail of its queue.
func (b *Broker) Requeue(ctx context.Context, env *job.Envelope) error {
	return b.push(ctx, env)
}

func (b *Broker) push(ctx context.Context, env *job.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	j := env.Job
	if env.ETA != nil && env.ETA.After(b.now()) {
		key := b.DelayedKey(j.Options.Queue)
		z := goredis.Z{Score: float64(etaScore(*env.ETA)), Member: data}
		if err := b.client.ZAdd(ctx, key, z).Err(); err != nil {
			return fmt.Errorf("redis: schedule job %s on %s: %w", j.Name, key, err)
		}
		b.logger.Debug("job scheduled", "job_id", j.ID, "job_name", j.Name, "key", key, "eta", env.ETA)
		return nil
	}

	key := b.QueueKey(j.Options.Queue)
	if err := b.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis: push job %s to %s: %w", j.Name, key, err)
	}

	b.logger.Debug("job pushed", "job_id", j.ID, "job_name", j.Name, "key", key)
	return nil
}

// PromoteDue moves every delayed job whose ETA has passed onto the tail of
// its queue and returns how many were moved. Consumers sharing the queues may
// call it concurrently; each job is moved once.
func (b *Broker) PromoteDue(ctx context.Context, queues ...string) (int, error) {
	upTo := strconv.FormatInt(b.now().UnixMilli(), 10)
	moved := 0
	for _, queue := range queues {
		key := b.DelayedKey(queue)
		due, err := b.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   upTo,
			Count: promoteBatch,
		}).Result()
		if err != nil {
			return moved, fmt.Errorf("redis: read due jobs %s: %w", key, err)
		}

		for _, member := range due {
			// Whoever removes the member owns the move.
			n, err := b.client.ZRem(ctx, key, member).Result()
			if err != nil {
				return moved, fmt.Errorf("redis: claim due job %s: %w", key, err)
			}
			if n == 0 {
				continue
			}
			if err := b.client.RPush(ctx, b.QueueKey(queue), member).Err(); err != nil {
				return moved, fmt.Errorf("redis: promote job to %s: %w", queue, err)
			}
			moved++
		}
	}
	if moved > 0 {
		b.logger.Debug("promoted due jobs", "count", moved)
	}
	return moved, nil
}

// etaScore rounds t up to whole milliseconds so a promoted job is never
// early.
func etaScore(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

// Len returns the number of jobs ready on queue.
func (b *Broker) Len(ctx context.Context, queue string) (int64, error) {
	n, err := b.client.LLen(ctx, b.QueueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: queue length %s: %w", queue, err)
	}
	return n, nil
}

// Delayed returns the number of jobs on queue waiting for their ETA.
func (b *Broker) Delayed(ctx context.Context, queue string) (int64, error) {
	n, err := b.client.ZCard(ctx, b.DelayedKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: delayed length %s: %w", queue, err)
	}
	return n, nil
}

// Pop removes the job at the head of the first non-empty queue, in the order
// given, blocking for up to timeout. It returns ErrNoJob if nothing arrives in
// time.
func (b *Broker) Pop(ctx context.Context, timeout time.Duration, queues ...string) (*job.Envelope, error) {
	if len(queues) == 0 {
		queues = []string{b.defaultQueue}
	}
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = b.QueueKey(q)
	}

	res, err := b.client.BLPop(ctx, timeout, keys...).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("redis: pop %v: %w", queues, err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redis: pop %v: unexpected reply length %d", queues, len(res))
	}

	env, err := job.UnmarshalEnvelope([]byte(res[1]))
	if err != nil {
		return nil, fmt.Errorf("redis: pop %s: %w", res[0], err)
	}
	return env, nil
}
