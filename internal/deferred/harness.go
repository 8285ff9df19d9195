package deferred

import "context"

// ForceExitOutermost commits the outermost scope on resource as if its
// transaction had succeeded, dispatching everything pending in it. Test suites
// that wrap every test in a transaction call it before the test body so that
// deferred jobs can fire.
func (q *Queue) ForceExitOutermost(ctx context.Context, resource ResourceID) error {
	return q.ExitScope(ctx, resource, true, true, true)
}

// ForceEnterOutermost reopens the outermost scope on resource, restoring the
// state the test suite's own transaction expects when the test finishes.
func (q *Queue) ForceEnterOutermost(resource ResourceID) {
	q.EnterScope(resource, true, true)
}
