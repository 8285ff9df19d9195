package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultQueue is the queue used when a job does not name one.
const DefaultQueue = "default"

// ErrInvalidJob is returned when a job descriptor fails validation.
var ErrInvalidJob = errors.New("invalid job")

var validate = validator.New()

// Options holds the dispatch options of a job.
type Options struct {
	Queue     string        `json:"queue" validate:"required"`
	Countdown time.Duration `json:"countdown,omitempty" validate:"gte=0"`
	Priority  int           `json:"priority,omitempty" validate:"gte=0,lte=9"`
}

// Job is a fully resolved job descriptor.
type Job struct {
	ID      uuid.UUID      `json:"id"`
	Name    string         `json:"name" validate:"required,max=255"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Options Options        `json:"options"`
}

// Option configures a Job built with New.
type Option func(*Job)

// WithArgs sets the positional arguments.
func WithArgs(args ...any) Option {
	return func(j *Job) { j.Args = args }
}

// WithKwargs sets the keyword arguments.
func WithKwargs(kwargs map[string]any) Option {
	return func(j *Job) { j.Kwargs = kwargs }
}

// WithQueue routes the job to a named queue.
func WithQueue(queue string) Option {
	return func(j *Job) { j.Options.Queue = queue }
}

// WithCountdown delays execution of the job by d once it is enqueued.
func WithCountdown(d time.Duration) Option {
	return func(j *Job) { j.Options.Countdown = d }
}

// WithPriority sets the job priority, 0 (lowest) to 9.
func WithPriority(p int) Option {
	return func(j *Job) { j.Options.Priority = p }
}

// New builds a job descriptor with a fresh ID and validates it.
func New(name string, opts ...Option) (*Job, error) {
	j := &Job{
		ID:      uuid.New(),
		Name:    name,
		Options: Options{Queue: DefaultQueue},
	}
	for _, o := range opts {
		o(j)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Validate checks the descriptor's fields.
func (j *Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return nil
}

// Receipt is the handle returned by a backend once a job has been enqueued.
type Receipt struct {
	JobID      uuid.UUID `json:"job_id"`
	Queue      string    `json:"queue"`
	Backend    string    `json:"backend"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Dispatcher enqueues a job for execution. Implementations may block on
// network I/O and must report enqueue failures through the returned error.
type Dispatcher interface {
	Dispatch(ctx context.Context, j *Job) (*Receipt, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, j *Job) (*Receipt, error)

// Dispatch calls f(ctx, j).
func (f DispatcherFunc) Dispatch(ctx context.Context, j *Job) (*Receipt, error) {
	return f(ctx, j)
}
