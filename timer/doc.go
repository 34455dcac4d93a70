// Package timer schedules in-process wake-ups for jobs whose next run
// lies beyond the scan horizon. Runtimes cannot hold a single timer
// open for an arbitrary span, so long waits are decomposed into a
// chain of bounded timers; each link re-reads the remaining delay so
// that a rescheduled or cancelled job is noticed without firing.
package timer
