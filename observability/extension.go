package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/chrono/ext"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// meterName is the instrumentation scope name for chrono observability.
const meterName = "github.com/xraph/chrono/observability"

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobScheduled  = (*MetricsExtension)(nil)
	_ ext.JobStarted    = (*MetricsExtension)(nil)
	_ ext.JobSucceeded  = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.LockReclaimed = (*MetricsExtension)(nil)
	_ ext.JobCancelled  = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it as a Chrono extension to automatically track schedule
// rates, execution outcomes, stale-lock takeovers, and cancellations.
type MetricsExtension struct {
	scheduled  metric.Int64Counter
	started    metric.Int64Counter
	succeeded  metric.Int64Counter
	failed     metric.Int64Counter
	reclaimed  metric.Int64Counter
	cancelled  metric.Int64Counter
	runSeconds metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured, all instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a MeterProvider for
// testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On instrument creation error the OTel API returns noops, so the
	// extension degrades gracefully.
	m.scheduled, _ = meter.Int64Counter("chrono.jobs.scheduled",
		metric.WithDescription("Jobs persisted with a new next-run time"),
		metric.WithUnit("{job}"))
	m.started, _ = meter.Int64Counter("chrono.jobs.started",
		metric.WithDescription("Job executions begun by this process"),
		metric.WithUnit("{execution}"))
	m.succeeded, _ = meter.Int64Counter("chrono.jobs.succeeded",
		metric.WithDescription("Job executions that completed without error"),
		metric.WithUnit("{execution}"))
	m.failed, _ = meter.Int64Counter("chrono.jobs.failed",
		metric.WithDescription("Job executions that returned an error or timed out"),
		metric.WithUnit("{execution}"))
	m.reclaimed, _ = meter.Int64Counter("chrono.locks.reclaimed",
		metric.WithDescription("Stale locks taken over from silent processes"),
		metric.WithUnit("{lock}"))
	m.cancelled, _ = meter.Int64Counter("chrono.jobs.cancelled",
		metric.WithDescription("Job records removed through the scheduler API"),
		metric.WithUnit("{job}"))
	m.runSeconds, _ = meter.Float64Histogram("chrono.jobs.run_seconds",
		metric.WithDescription("Successful execution time in seconds"),
		metric.WithUnit("s"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func nameAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_name", name))
}

// OnJobScheduled implements ext.JobScheduled.
func (m *MetricsExtension) OnJobScheduled(ctx context.Context, j *job.Job) error {
	m.scheduled.Add(ctx, 1, nameAttr(j.Name))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.started.Add(ctx, 1, nameAttr(j.Name))
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.succeeded.Add(ctx, 1, nameAttr(j.Name))
	m.runSeconds.Record(ctx, elapsed.Seconds(), nameAttr(j.Name))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, nameAttr(j.Name))
	return nil
}

// OnLockReclaimed implements ext.LockReclaimed.
func (m *MetricsExtension) OnLockReclaimed(ctx context.Context, j *job.Job, _ string, _ time.Duration) error {
	m.reclaimed.Add(ctx, 1, nameAttr(j.Name))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ id.JobID, name string) error {
	m.cancelled.Add(ctx, 1, nameAttr(name))
	return nil
}
