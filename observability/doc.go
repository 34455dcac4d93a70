// Package observability provides an OpenTelemetry-based metrics
// extension for Chrono. The MetricsExtension implements lifecycle hooks
// to record system-wide counters for job scheduling, execution outcome,
// lock reclamation, and cancellation events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
