// Package deferred holds jobs submitted inside a database transaction until
// the outermost transaction commits.
//
// Each transaction chain carries a Queue in its context. The queue keeps, per
// database resource, a stack with one pending list for every open savepoint
// scope. Committing an inner scope promotes its jobs into the parent's list;
// committing the outermost scope dispatches them in submission order; rolling
// back a scope drops everything still pending in it. Submitting while no scope
// is open dispatches immediately.
//
// A Queue belongs to the goroutine running the transaction and is not safe for
// concurrent use. Goroutines started from inside a transaction should call
// Detach on the context so their submissions are not tied to a scope they do
// not own.
package deferred
