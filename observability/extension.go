// Package observability provides a lifecycle extension that records
// OpenTelemetry counters for every job lifecycle event.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/conveyorhq/conveyor/observability"

// Compile-time interface checks.
var (
	_ hook.Extension       = (*MetricsExtension)(nil)
	_ hook.JobEnqueued     = (*MetricsExtension)(nil)
	_ hook.JobCompleted    = (*MetricsExtension)(nil)
	_ hook.JobFailed       = (*MetricsExtension)(nil)
	_ hook.JobRetrying     = (*MetricsExtension)(nil)
	_ hook.JobDeadLettered = (*MetricsExtension)(nil)
	_ hook.JobCancelled    = (*MetricsExtension)(nil)
	_ hook.CronFired       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it
// as a scheduler extension to automatically track enqueue rates,
// completion counts, failure rates, retry counts, dead-letter entries,
// cancellations, and cron fires.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	cancelled    metric.Int64Counter
	cronFired    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the instruments are
// noops and the extension has zero overhead.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}
	return &MetricsExtension{
		enqueued:     counter("conveyor.job.enqueued", "Jobs accepted into the queue"),
		completed:    counter("conveyor.job.completed", "Jobs finished successfully"),
		failed:       counter("conveyor.job.failed", "Jobs failed terminally"),
		retried:      counter("conveyor.job.retried", "Retry attempts scheduled"),
		deadLettered: counter("conveyor.job.dead_lettered", "Jobs moved to the dead letter store"),
		cancelled:    counter("conveyor.job.cancelled", "Jobs cancelled"),
		cronFired:    counter("conveyor.cron.fired", "Cron entries fired"),
	}
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(j *job.QueuedJob) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", j.Type))
}

// OnJobEnqueued implements hook.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.QueuedJob) error {
	m.enqueued.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.QueuedJob, _ time.Duration) error {
	m.completed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.QueuedJob, _ error) error {
	m.failed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.QueuedJob, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobDeadLettered implements hook.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, j *job.QueuedJob, _ error) error {
	m.deadLettered.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.QueuedJob) error {
	m.cancelled.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnCronFired implements hook.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
