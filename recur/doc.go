// Package recur plans the next run of repeating jobs. A repeat
// interval is either a cron expression (five fields, or a descriptor
// such as @daily) or a fixed Go duration string. Cron expressions are
// evaluated in the job's repeat timezone; fixed intervals are plain
// arithmetic from the completion time.
//
// Missed occurrences are never replayed. When a job completes long
// after its schedule would have fired again, the planner advances past
// every missed occurrence and lands on the first one in the future.
package recur
