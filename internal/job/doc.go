// Package job defines the job descriptor handed to a job backend and the
// Dispatcher capability that backends implement. A Job captures everything
// needed to enqueue the work later exactly as it would have been enqueued
// immediately: the target job name, positional and keyword arguments, and the
// dispatch options.
package job
