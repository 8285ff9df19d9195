package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/phrazzld/txtasks/internal/job"
)

// Registry errors
var (
	ErrUnknownJob       = errors.New("no handler registered for job")
	ErrDuplicateHandler = errors.New("handler already registered")
)

// HandlerFunc runs a job.
type HandlerFunc func(ctx context.Context, j *job.Job) error

// Executor runs jobs. Registry is the standard implementation.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) error
}

// TaskQueueReader provides read-only access to the job channel
// allowing workers to consume jobs without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming jobs
	GetChannel() <-chan *job.Job
}

// TaskQueueWriter provides write access to the job queue
type TaskQueueWriter interface {
	// Enqueue adds a job to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(j *job.Job) error

	// Close closes the queue, preventing further submission
	Close()
}

// Registry maps job names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to h.
func (r *Registry) Register(name string, h HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler bound to name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the handler registered for j.Name.
func (r *Registry) Execute(ctx context.Context, j *job.Job) error {
	h, ok := r.Lookup(j.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, j.Name)
	}
	return h(ctx, j)
}
