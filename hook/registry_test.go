package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobEnqueued(_ context.Context, _ *job.QueuedJob) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.QueuedJob) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.QueuedJob, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.QueuedJob, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.QueuedJob, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobDeadLettered(_ context.Context, _ *job.QueuedJob, _ error) error {
	e.calls = append(e.calls, "OnJobDeadLettered")
	return nil
}

func (e *allHooksExt) OnJobCancelled(_ context.Context, _ *job.QueuedJob) error {
	e.calls = append(e.calls, "OnJobCancelled")
	return nil
}

func (e *allHooksExt) OnCronFired(_ context.Context, _ string, _ id.JobID) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// completedOnlyExt opts in to a single hook.
type completedOnlyExt struct {
	completed int
}

func (e *completedOnlyExt) Name() string { return "completed-only" }

func (e *completedOnlyExt) OnJobCompleted(_ context.Context, _ *job.QueuedJob, _ time.Duration) error {
	e.completed++
	return nil
}

// failingExt returns an error from its hook.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobEnqueued(_ context.Context, _ *job.QueuedJob) error {
	return errors.New("hook exploded")
}

func testJob() *job.QueuedJob {
	return &job.QueuedJob{ID: id.NewJobID(), Type: "test"}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_EmitsAllHooks(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ext := &allHooksExt{}
	r.Register(ext)

	ctx := context.Background()
	j := testJob()

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("boom"))
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobDeadLettered(ctx, j, errors.New("boom"))
	r.EmitJobCancelled(ctx, j)
	r.EmitCronFired(ctx, "nightly", j.ID)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobCompleted", "OnJobFailed",
		"OnJobRetrying", "OnJobDeadLettered", "OnJobCancelled",
		"OnCronFired", "OnShutdown",
	}
	if len(ext.calls) != len(want) {
		t.Fatalf("got %d calls %v, want %d", len(ext.calls), ext.calls, len(want))
	}
	for i, name := range want {
		if ext.calls[i] != name {
			t.Errorf("calls[%d] = %q, want %q", i, ext.calls[i], name)
		}
	}
}

func TestRegistry_PartialExtension(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ext := &completedOnlyExt{}
	r.Register(ext)

	ctx := context.Background()
	j := testJob()

	// Only the implemented hook fires; the rest are no-ops.
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("boom"))

	if ext.completed != 1 {
		t.Errorf("completed = %d, want 1", ext.completed)
	}
}

func TestRegistry_HookErrorDoesNotPropagate(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&failingExt{})

	// Must not panic or propagate the hook error.
	r.EmitJobEnqueued(context.Background(), testJob())
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	first := &completedOnlyExt{}
	second := &completedOnlyExt{}
	r.Register(first)
	r.Register(second)

	if got := len(r.Extensions()); got != 2 {
		t.Fatalf("Extensions() len = %d, want 2", got)
	}

	r.EmitJobCompleted(context.Background(), testJob(), time.Second)
	if first.completed != 1 || second.completed != 1 {
		t.Errorf("both extensions should fire: %d/%d", first.completed, second.completed)
	}
}
