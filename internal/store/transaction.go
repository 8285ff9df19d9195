package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/txtasks/internal/platform/logger"
)

// TxFn is a function that executes within a database transaction.
// It receives the context and a transaction, and returns an error if the operation fails.
// The block is committed if the function returns nil, or rolled back if it returns an error.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// TxManager opens nested transactional blocks on one database.
//
// The first Atomic call on a context begins a transaction. Atomic calls made
// with the context handed to fn open savepoints inside that transaction, or
// plain nested blocks sharing the parent's fate when WithoutSavepoint is used.
type TxManager struct {
	db        *sql.DB
	resource  string
	observers []ScopeObserver
	logger    *slog.Logger
}

// TxManagerOption configures a TxManager.
type TxManagerOption func(*TxManager)

// WithResource sets the resource name reported in scope notifications.
func WithResource(name string) TxManagerOption {
	return func(m *TxManager) { m.resource = name }
}

// WithObserver registers an observer. Observers are notified of entries in
// registration order and of exits in reverse order.
func WithObserver(o ScopeObserver) TxManagerOption {
	return func(m *TxManager) { m.observers = append(m.observers, o) }
}

// WithTxLogger sets the fallback logger used when the context carries none.
func WithTxLogger(l *slog.Logger) TxManagerOption {
	return func(m *TxManager) { m.logger = l }
}

// NewTxManager creates a TxManager for db.
func NewTxManager(db *sql.DB, opts ...TxManagerOption) *TxManager {
	m := &TxManager{
		db:       db,
		resource: DefaultResource,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Resource returns the resource name of the manager.
func (m *TxManager) Resource() string {
	return m.resource
}

// AtomicOption configures a single Atomic block.
type AtomicOption func(*atomicOptions)

type atomicOptions struct {
	savepoint bool
}

// WithoutSavepoint makes a nested block share its parent's transaction
// without a savepoint: an error from the block propagates and rolls back the
// parent instead. It has no effect on the outermost block.
func WithoutSavepoint() AtomicOption {
	return func(o *atomicOptions) { o.savepoint = false }
}

type txKey struct{ resource string }

type txState struct {
	tx *sql.Tx
}

// txFromContext returns the transaction opened for resource on ctx, if any.
func txFromContext(ctx context.Context, resource string) (*sql.Tx, bool) {
	state, ok := ctx.Value(txKey{resource}).(*txState)
	if !ok || state == nil {
		return nil, false
	}
	return state.tx, true
}

// Atomic runs fn inside a transactional block. If fn returns an error or
// panics the block is rolled back, otherwise it is committed. Observer exit
// errors are returned after the database work has been committed.
func (m *TxManager) Atomic(ctx context.Context, fn TxFn, opts ...AtomicOption) error {
	o := atomicOptions{savepoint: true}
	for _, opt := range opts {
		opt(&o)
	}

	tx, ok := txFromContext(ctx, m.resource)
	if !ok {
		return m.runOutermost(ctx, fn)
	}
	if !o.savepoint {
		return m.runShared(ctx, tx, fn)
	}
	return m.runSavepoint(ctx, tx, fn)
}

func (m *TxManager) runOutermost(ctx context.Context, fn TxFn) error {
	log := logger.FromContextOrDefault(ctx, m.logger)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction",
			slog.String("resource", m.resource),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	ctx = context.WithValue(ctx, txKey{m.resource}, &txState{tx: tx})
	scope := Scope{Resource: m.resource, Outermost: true, Savepoint: true}
	ctx = m.enter(ctx, scope)

	defer func() {
		if p := recover(); p != nil {
			if txErr := tx.Rollback(); txErr != nil {
				log.Error("failed to roll back transaction after panic",
					slog.String("error", txErr.Error()),
					slog.Any("panic", p))
			} else {
				log.Error("rolled back transaction after panic",
					slog.Any("panic", p))
			}
			_ = m.exit(ctx, scope, false)
			// ALLOW-PANIC: Propagating caught panic from transaction
			panic(p)
		}
	}()

	if fnErr := fn(ctx, tx); fnErr != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rollbackErr.Error()),
				slog.String("original_error", fnErr.Error()))
			fnErr = fmt.Errorf(
				"error rolling back transaction: %v (original error: %w)",
				rollbackErr,
				fnErr,
			)
		} else {
			log.Debug("rolled back transaction due to error",
				slog.String("error", fnErr.Error()))
		}
		return withExitErr(fnErr, m.exit(ctx, scope, false))
	}

	if commitErr := tx.Commit(); commitErr != nil {
		log.Error("failed to commit transaction",
			slog.String("error", commitErr.Error()))
		return withExitErr(
			fmt.Errorf("%w: failed to commit transaction: %w", ErrTransactionFailed, commitErr),
			m.exit(ctx, scope, false),
		)
	}

	log.Debug("transaction committed successfully", slog.String("resource", m.resource))
	return m.exit(ctx, scope, true)
}

func (m *TxManager) runSavepoint(ctx context.Context, tx *sql.Tx, fn TxFn) error {
	log := logger.FromContextOrDefault(ctx, m.logger)
	name := savepointName()

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	scope := Scope{Resource: m.resource, Outermost: false, Savepoint: true}
	ctx = m.enter(ctx, scope)

	defer func() {
		if p := recover(); p != nil {
			if _, txErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); txErr != nil {
				log.Error("failed to roll back savepoint after panic",
					slog.String("savepoint", name),
					slog.String("error", txErr.Error()))
			}
			_ = m.exit(ctx, scope, false)
			// ALLOW-PANIC: Propagating caught panic from savepoint
			panic(p)
		}
	}()

	if fnErr := fn(ctx, tx); fnErr != nil {
		if _, rollbackErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rollbackErr != nil {
			log.Error("failed to roll back savepoint",
				slog.String("savepoint", name),
				slog.String("rollback_error", rollbackErr.Error()),
				slog.String("original_error", fnErr.Error()))
			fnErr = fmt.Errorf(
				"error rolling back savepoint: %v (original error: %w)",
				rollbackErr,
				fnErr,
			)
		}
		return withExitErr(fnErr, m.exit(ctx, scope, false))
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return withExitErr(
			fmt.Errorf("%w: failed to release savepoint: %w", ErrTransactionFailed, err),
			m.exit(ctx, scope, false),
		)
	}

	return m.exit(ctx, scope, true)
}

func (m *TxManager) runShared(ctx context.Context, tx *sql.Tx, fn TxFn) error {
	scope := Scope{Resource: m.resource, Outermost: false, Savepoint: false}
	ctx = m.enter(ctx, scope)

	defer func() {
		if p := recover(); p != nil {
			_ = m.exit(ctx, scope, false)
			// ALLOW-PANIC: Propagating caught panic from nested block
			panic(p)
		}
	}()

	if fnErr := fn(ctx, tx); fnErr != nil {
		return withExitErr(fnErr, m.exit(ctx, scope, false))
	}
	return m.exit(ctx, scope, true)
}

func (m *TxManager) enter(ctx context.Context, scope Scope) context.Context {
	for _, o := range m.observers {
		ctx = o.EnterScope(ctx, scope)
	}
	return ctx
}

func (m *TxManager) exit(ctx context.Context, scope Scope, committed bool) error {
	var errs []error
	for i := len(m.observers) - 1; i >= 0; i-- {
		if err := m.observers[i].ExitScope(ctx, scope, committed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withExitErr keeps err as-is unless an observer also failed.
func withExitErr(err, exitErr error) error {
	if exitErr == nil {
		return err
	}
	return errors.Join(err, exitErr)
}

func savepointName() string {
	return "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
