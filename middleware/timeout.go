package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/job"
)

// Timeout returns middleware that enforces the per-job execution
// deadline. If the job has a non-zero Timeout, a context.WithTimeout
// wraps the handler call. A result produced after the deadline, success
// or failure, is discarded in favor of the timeout: the attempt counts
// as timed out for retry accounting.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.QueuedJob, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		err := next(ctx)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("job execution timed out",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.Duration("timeout", j.Timeout),
			)
			return fmt.Errorf("%w after %s", conveyor.ErrExecutionTimeout, j.Timeout)
		}
		return err
	}
}
