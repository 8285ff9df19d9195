package store

import "context"

// DefaultResource is the resource name used when a TxManager is not given one.
const DefaultResource = "default"

// Scope describes one transactional block opened by a TxManager.
type Scope struct {
	// Resource names the database the scope belongs to.
	Resource string
	// Outermost is true for the block that began the database transaction.
	Outermost bool
	// Savepoint is true when the block can roll back independently of its
	// parent. The outermost block always can.
	Savepoint bool
}

// ScopeObserver is notified as scopes open and close.
//
// EnterScope is called after the scope has been opened and may return a
// derived context, which is the context the block's function receives.
// ExitScope is called after the scope has been committed or rolled back, with
// the context returned by EnterScope. An error from ExitScope is returned to
// the caller of Atomic; the database work has already been committed or
// rolled back at that point.
type ScopeObserver interface {
	EnterScope(ctx context.Context, scope Scope) context.Context
	ExitScope(ctx context.Context, scope Scope, committed bool) error
}
