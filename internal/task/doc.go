// Package task is the in-process job backend. It routes jobs by name to
// registered handlers and executes them on a pool of worker goroutines fed
// from a buffered queue. Jobs live only in memory: anything still queued when
// the process exits is lost.
package task
