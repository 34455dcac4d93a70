package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/chrono/job"
)

// tracerName is the instrumentation scope name for chrono tracing.
const tracerName = "github.com/xraph/chrono"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: chrono.job.id, chrono.job.name, chrono.job.type,
// chrono.job.fail_count, chrono.job.repeat_interval.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "chrono.job.execute",
			trace.WithAttributes(
				attribute.String("chrono.job.id", j.ID.String()),
				attribute.String("chrono.job.name", j.Name),
				attribute.String("chrono.job.type", string(j.Type)),
				attribute.Int("chrono.job.fail_count", j.FailCount),
				attribute.String("chrono.job.repeat_interval", j.RepeatInterval),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
