// Package api is the HTTP surface of the service. Its job endpoint records a
// request in the database and submits the job in the same transaction, so
// the job is dispatched only once that transaction commits.
package api
