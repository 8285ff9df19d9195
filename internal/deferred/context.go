package deferred

import "context"

type queueKey struct{}

// NewContext returns a copy of ctx carrying q.
func NewContext(ctx context.Context, q *Queue) context.Context {
	return context.WithValue(ctx, queueKey{}, q)
}

// FromContext returns the queue carried by ctx, or nil when there is none. A
// nil queue reports no open scopes.
func FromContext(ctx context.Context) *Queue {
	q, _ := ctx.Value(queueKey{}).(*Queue)
	return q
}

// Detach returns a context whose submissions are dispatched immediately,
// regardless of the scopes open on ctx. Use it when handing ctx to another
// goroutine.
func Detach(ctx context.Context) context.Context {
	if FromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, queueKey{}, (*Queue)(nil))
}
