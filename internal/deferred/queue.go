package deferred

import (
	"context"
	"log/slog"

	"github.com/phrazzld/txtasks/internal/job"
)

// ResourceID identifies an independent transactional resource, such as a
// database alias. Scopes on different resources never interact.
type ResourceID string

// pendingJob is a job together with the dispatcher it would have been handed
// to had no scope been open.
type pendingJob struct {
	job        *job.Job
	dispatcher job.Dispatcher
}

// pendingList holds the jobs submitted within one open scope, in order.
type pendingList []pendingJob

// Queue tracks open scopes and pending jobs per resource.
type Queue struct {
	stacks map[ResourceID][]pendingList
	logger *slog.Logger
}

// NewQueue creates an idle queue. A nil logger falls back to slog.Default.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		stacks: make(map[ResourceID][]pendingList),
		logger: logger.With("component", "deferred_queue"),
	}
}

// EnterScope records that a scope has been opened on resource. Scopes without
// a savepoint share their parent's fate and are ignored. Entering the
// outermost scope discards any stale state left by a scope that was never
// closed.
func (q *Queue) EnterScope(resource ResourceID, outermost, savepoint bool) {
	if !savepoint {
		return
	}
	if outermost {
		if stale := q.stacks[resource]; len(stale) > 0 {
			q.logger.Warn("resetting stale scope stack",
				"resource", resource,
				"depth", len(stale))
		}
		q.stacks[resource] = nil
	}
	q.stacks[resource] = append(q.stacks[resource], pendingList{})
}

// ExitScope closes the innermost open scope on resource.
//
// On rollback the scope's pending jobs are dropped. On commit they are either
// dispatched, when this was the last open scope, or appended to the parent
// scope's list. A dispatch failure is returned to the caller; jobs after the
// failing one are not dispatched.
func (q *Queue) ExitScope(ctx context.Context, resource ResourceID, outermost, savepoint, succeeded bool) error {
	if !savepoint {
		return nil
	}

	stack := q.stacks[resource]
	depth := len(stack)
	if depth == 0 {
		return &ScopeError{Resource: resource, Op: "exit", Err: ErrScopeMismatch}
	}
	if outermost && depth > 1 {
		q.logger.Warn("outermost scope exiting with nested scopes open",
			"resource", resource,
			"depth", depth)
	}

	top := stack[depth-1]
	stack[depth-1] = nil
	stack = stack[:depth-1]
	if len(stack) == 0 {
		delete(q.stacks, resource)
	} else {
		q.stacks[resource] = stack
	}

	switch {
	case !succeeded:
		if len(top) > 0 {
			q.logger.Debug("discarding jobs from rolled back scope",
				"resource", resource,
				"depth", depth,
				"job_count", len(top))
		}
		return nil

	case depth == 1:
		return q.dispatchAll(ctx, resource, top)

	default:
		stack[len(stack)-1] = append(stack[len(stack)-1], top...)
		return nil
	}
}

func (q *Queue) dispatchAll(ctx context.Context, resource ResourceID, jobs pendingList) error {
	for i, p := range jobs {
		if _, err := p.dispatcher.Dispatch(ctx, p.job); err != nil {
			q.logger.Error("failed to dispatch deferred job",
				"resource", resource,
				"job_id", p.job.ID,
				"job_name", p.job.Name,
				"undispatched", len(jobs)-i,
				"error", err)
			return &DispatchError{Job: p.job, Undispatched: len(jobs) - i, Err: err}
		}
	}
	if len(jobs) > 0 {
		q.logger.Debug("dispatched deferred jobs",
			"resource", resource,
			"job_count", len(jobs))
	}
	return nil
}

// Submit dispatches j through d right away when no scope is open on resource,
// returning the backend's receipt. Otherwise j is queued in the innermost open
// scope and Submit returns a nil receipt: no handle exists until the job is
// actually dispatched.
//
// Submit may be called on a nil Queue, which behaves as if no scope is open.
func (q *Queue) Submit(ctx context.Context, resource ResourceID, d job.Dispatcher, j *job.Job) (*job.Receipt, error) {
	if q == nil || len(q.stacks[resource]) == 0 {
		return d.Dispatch(ctx, j)
	}
	stack := q.stacks[resource]
	stack[len(stack)-1] = append(stack[len(stack)-1], pendingJob{job: j, dispatcher: d})
	return nil, nil
}

// Depth returns the number of open savepoint scopes on resource.
func (q *Queue) Depth(resource ResourceID) int {
	if q == nil {
		return 0
	}
	return len(q.stacks[resource])
}

// Pending returns the number of jobs waiting across all open scopes on
// resource.
func (q *Queue) Pending(resource ResourceID) int {
	if q == nil {
		return 0
	}
	n := 0
	for _, l := range q.stacks[resource] {
		n += len(l)
	}
	return n
}
