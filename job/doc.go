// Package job defines the job record, typed definitions, the name
// registry, and the store interface.
//
// # Job Record
//
// A [Job] is the sole persisted entity of the engine: one schedulable
// unit of work plus its run state. It embeds [chrono.Entity] for audit
// timestamps and carries a JSON payload. There is no stored state
// machine — a job's condition is derived from its fields:
//
//	never ran:          LastRunAt == nil
//	currently running:  LockedAt != nil && LastRunAt != nil
//	ran and succeeded:  LastFinishedAt != nil && FailedAt == nil
//	ran and failed:     FailedAt != nil (FailReason populated)
//
// Fields of note:
//   - NextRunAt: next eligible execution time (nil = not scheduled)
//   - LockedAt: the mutual-exclusion token; non-nil only while a
//     worker holds the processing lock, reclaimable once older than
//     the definition's lock lifetime
//   - Priority: higher values win contention among due jobs
//   - RepeatInterval: fixed duration ("30s") or cron expression
//     ("*/5 * * * *"); empty for one-shot jobs
//   - Type: TypeNormal, or TypeSingle for at-most-one outstanding
//     record per name (saving is an upsert)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at schedule time and deserialized before the handler runs:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	    job.WithTimeout(30*time.Second),
//	    job.WithConcurrency(5),
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values and to
// the per-name options (timeout, concurrency ceiling, lock lifetime)
// the engine consults at dispatch time:
//
//	job.RegisterDefinition(registry, SendEmail)
//
// The engine package provides higher-level engine.Register and
// engine.Schedule wrappers.
package job
