// Package store provides the transaction manager and the persistence
// abstractions shared by the storage implementations. The TxManager opens
// nested transactional blocks and notifies registered ScopeObservers as each
// block opens and closes, which is how deferred job dispatch learns about
// commits and rollbacks.
package store
