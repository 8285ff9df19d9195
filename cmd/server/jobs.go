package main

import (
	"context"
	"log/slog"

	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/platform/logger"
	"github.com/phrazzld/txtasks/internal/task"
)

// defaultRegistry returns the handlers this server can execute.
func defaultRegistry(l *slog.Logger) *task.Registry {
	r := task.NewRegistry()

	// Registration into a fresh registry cannot collide.
	_ = r.Register("log_message", func(ctx context.Context, j *job.Job) error {
		logger.FromContextOrDefault(ctx, l).Info("log_message job executed",
			"job_id", j.ID,
			"args", j.Args,
			"kwargs", j.Kwargs)
		return nil
	})
	_ = r.Register("noop", func(ctx context.Context, j *job.Job) error {
		return nil
	})

	return r
}
