package deferred

import (
	"context"

	"github.com/phrazzld/txtasks/internal/job"
)

// Client wraps a job.Dispatcher so that jobs submitted inside a transactional
// scope are held until the outermost scope commits.
type Client struct {
	dispatcher job.Dispatcher
	resource   ResourceID
}

var _ job.Dispatcher = (*Client)(nil)

// NewClient creates a Client that defers against scopes opened on resource.
func NewClient(d job.Dispatcher, resource ResourceID) *Client {
	return &Client{dispatcher: d, resource: resource}
}

// Delay submits j against the client's resource. It returns the backend's
// receipt when the job was dispatched right away, and a nil receipt when it
// was deferred.
func (c *Client) Delay(ctx context.Context, j *job.Job) (*job.Receipt, error) {
	return c.DelayOn(ctx, c.resource, j)
}

// DelayOn is Delay against an explicit resource.
func (c *Client) DelayOn(ctx context.Context, resource ResourceID, j *job.Job) (*job.Receipt, error) {
	return FromContext(ctx).Submit(ctx, resource, c.dispatcher, j)
}

// Dispatch implements job.Dispatcher by calling Delay, so a Client can stand in
// wherever a dispatcher is expected.
func (c *Client) Dispatch(ctx context.Context, j *job.Job) (*job.Receipt, error) {
	return c.Delay(ctx, j)
}
