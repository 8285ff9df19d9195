package deferred

import (
	"context"
	"log/slog"

	"github.com/phrazzld/txtasks/internal/store"
)

// Observer connects a store.TxManager to the Queue carried by the block's
// context. When the outermost block opens on a context without a queue, a new
// queue is attached, so every transaction chain gets its own.
type Observer struct {
	logger *slog.Logger
}

var _ store.ScopeObserver = (*Observer)(nil)

// NewObserver creates an Observer. Queues it creates log through logger.
func NewObserver(logger *slog.Logger) *Observer {
	return &Observer{logger: logger}
}

// EnterScope implements store.ScopeObserver.
func (o *Observer) EnterScope(ctx context.Context, scope store.Scope) context.Context {
	q := FromContext(ctx)
	if q == nil {
		q = NewQueue(o.logger)
		ctx = NewContext(ctx, q)
	}
	q.EnterScope(ResourceID(scope.Resource), scope.Outermost, scope.Savepoint)
	return ctx
}

// ExitScope implements store.ScopeObserver.
func (o *Observer) ExitScope(ctx context.Context, scope store.Scope, committed bool) error {
	q := FromContext(ctx)
	if q == nil {
		if !scope.Savepoint {
			return nil
		}
		return &ScopeError{Resource: ResourceID(scope.Resource), Op: "exit", Err: ErrScopeMismatch}
	}
	return q.ExitScope(ctx, ResourceID(scope.Resource), scope.Outermost, scope.Savepoint, committed)
}
