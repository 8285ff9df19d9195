package deferred

import (
	"errors"
	"fmt"

	"github.com/phrazzld/txtasks/internal/job"
)

// ErrScopeMismatch is returned when a scope exit has no matching scope entry
// for the same resource. It always indicates a bug in scope tracking.
var ErrScopeMismatch = errors.New("scope exit without matching enter")

// ScopeError reports a scope lifecycle failure for a resource.
type ScopeError struct {
	Resource ResourceID
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *ScopeError) Error() string {
	return fmt.Sprintf("deferred %s on resource %q: %v", e.Op, e.Resource, e.Err)
}

// Unwrap returns the underlying error to support errors.Is/errors.As.
func (e *ScopeError) Unwrap() error {
	return e.Err
}

// DispatchError reports a deferred job whose dispatch failed after its
// transaction had already committed. Undispatched counts the failed job and
// every job queued behind it, none of which were sent.
type DispatchError struct {
	Job          *job.Job
	Undispatched int
	Err          error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch deferred job %s: %v", e.Job.Name, e.Err)
}

// Unwrap returns the underlying error to support errors.Is/errors.As.
func (e *DispatchError) Unwrap() error {
	return e.Err
}
