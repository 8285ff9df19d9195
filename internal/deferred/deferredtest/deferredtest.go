// Package deferredtest provides helpers for testing code that defers job
// dispatch until commit.
package deferredtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/txtasks/internal/deferred"
	"github.com/phrazzld/txtasks/internal/job"
	"github.com/stretchr/testify/require"
)

// Release closes the outermost scope on resource for the duration of the
// test, as if the suite's wrapping transaction had committed, and reopens it
// during cleanup. ctx must carry the queue of the suite's transaction.
func Release(t testing.TB, ctx context.Context, resource deferred.ResourceID) {
	t.Helper()

	q := deferred.FromContext(ctx)
	require.NotNil(t, q, "context carries no deferred queue")
	require.NoError(t, q.ForceExitOutermost(ctx, resource))
	t.Cleanup(func() { q.ForceEnterOutermost(resource) })
}

// Recorder is a job.Dispatcher that records every job it receives.
type Recorder struct {
	mu   sync.Mutex
	jobs []*job.Job
	// Err, when set, is returned by Dispatch instead of recording the job.
	Err error
}

var _ job.Dispatcher = (*Recorder)(nil)

// Dispatch implements job.Dispatcher.
func (r *Recorder) Dispatch(ctx context.Context, j *job.Job) (*job.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	r.jobs = append(r.jobs, j)
	return &job.Receipt{
		JobID:      j.ID,
		Queue:      j.Options.Queue,
		Backend:    "recorder",
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Jobs returns the recorded jobs in dispatch order.
func (r *Recorder) Jobs() []*job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*job.Job(nil), r.jobs...)
}

// Names returns the names of the recorded jobs in dispatch order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.jobs))
	for i, j := range r.jobs {
		names[i] = j.Name
	}
	return names
}

// Count returns the number of recorded jobs.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Reset forgets the recorded jobs.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = nil
}
