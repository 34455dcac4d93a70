package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// claimScript is the atomic claim: the due/disabled/lock checks and
// the lock write execute as one server-side step, so under concurrent
// attempts exactly one caller sees "claimed".
//
// KEYS[1] = job hash key
// ARGV[1] = now (unix ms), ARGV[2] = stale cutoff (unix ms), ARGV[3] = worker id
var claimScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 'missing'
end
if redis.call('HGET', KEYS[1], 'disabled') == '1' then
	return 'missing'
end
local next_run = redis.call('HGET', KEYS[1], 'next_run_at')
if not next_run or next_run == '' or tonumber(next_run) > tonumber(ARGV[1]) then
	return 'missing'
end
local locked = redis.call('HGET', KEYS[1], 'locked_at')
if locked and locked ~= '' and tonumber(locked) >= tonumber(ARGV[2]) then
	return 'held'
end
redis.call('HSET', KEYS[1], 'locked_at', ARGV[1], 'last_modified_by', ARGV[3], 'updated_at', ARGV[1])
return 'claimed'
`)

// SaveJob persists a job. TypeSingle saves coalesce onto the live
// record with the same name, adopting its identity. The single lookup
// is not transactional with the write; racing single saves of the same
// name can momentarily duplicate, which the claim protocol still keeps
// from double-running.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now().UTC()

	if j.Type == job.TypeSingle {
		existing, err := s.findLiveSingle(ctx, j.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			j.ID = existing.ID
			j.CreatedAt = existing.CreatedAt
		}
	}

	return s.writeJob(ctx, j)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("chrono/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, chrono.ErrJobNotFound
	}
	return mapToJob(vals)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	exists, err := s.client.Exists(ctx, jobKey(j.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("chrono/redis: update job: %w", err)
	}
	if exists == 0 {
		return chrono.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()
	return s.writeJob(ctx, j)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.SRem(ctx, nameKey(j.Name), jID)
	pipe.ZRem(ctx, dueKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chrono/redis: delete job: %w", err)
	}
	return nil
}

// DueJobs returns up to limit claimable candidates ordered by priority
// descending then NextRunAt ascending. The list is advisory — every
// entry must still win its atomic claim before running.
func (s *Store) DueJobs(ctx context.Context, t time.Time, staleness time.Duration, limit int) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, dueKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(t.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("chrono/redis: due jobs: %w", err)
	}

	var jobs []*job.Job
	for _, jID := range ids {
		vals, getErr := s.client.HGetAll(ctx, jobKey(jID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("chrono/redis: due jobs fetch: %w", getErr)
		}
		if len(vals) == 0 {
			// Index entry outlived its record; drop it.
			s.client.ZRem(ctx, dueKey, jID)
			continue
		}
		j, convErr := mapToJob(vals)
		if convErr != nil {
			return nil, convErr
		}
		if j.Disabled || !j.IsDue(t) {
			continue
		}
		if j.LockedAt != nil && !j.LockStale(t, staleness) {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		if jobs[a].Priority != jobs[b].Priority {
			return jobs[a].Priority > jobs[b].Priority
		}
		return jobs[a].NextRunAt.Before(*jobs[b].NextRunAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// ClaimJob atomically acquires the processing lock on a job via the
// claim script.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, t time.Time, staleness time.Duration) (*job.Job, error) {
	outcome, err := claimScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		t.UnixMilli(),
		t.Add(-staleness).UnixMilli(),
		workerID.String(),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("chrono/redis: claim job: %w", err)
	}

	switch outcome {
	case "claimed":
		return s.GetJob(ctx, jobID)
	case "held":
		return nil, chrono.ErrLockHeld
	default:
		return nil, chrono.ErrJobNotFound
	}
}

// ReleaseJob unconditionally clears the job's lock.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("chrono/redis: release job: %w", err)
	}
	if exists == 0 {
		return chrono.ErrJobNotFound
	}

	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	err = s.client.HSet(ctx, key,
		"locked_at", "",
		"last_modified_by", workerID.String(),
		"updated_at", now,
	).Err()
	if err != nil {
		return fmt.Errorf("chrono/redis: release job: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching the given options, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.enumerate(ctx, opts.Name)
	if err != nil {
		return nil, err
	}

	if opts.Disabled != nil {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Disabled == *opts.Disabled {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.enumerate(ctx, opts.Name)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, j := range jobs {
		if opts.Locked != nil && (j.LockedAt != nil) != *opts.Locked {
			continue
		}
		count++
	}
	return count, nil
}

// ── Internals ─────────────────────────────────────────────────────

// writeJob writes the record hash and maintains the indexes in one
// transaction.
func (s *Store) writeJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID), jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, nameKey(j.Name), jID)
	if !j.Disabled && j.NextRunAt != nil {
		pipe.ZAdd(ctx, dueKey, goredis.Z{
			Score:  float64(j.NextRunAt.UnixMilli()),
			Member: jID,
		})
	} else {
		pipe.ZRem(ctx, dueKey, jID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chrono/redis: write job: %w", err)
	}
	return nil
}

// findLiveSingle returns the enabled, unlocked single record with the
// given name, or nil.
func (s *Store) findLiveSingle(ctx context.Context, name string) (*job.Job, error) {
	ids, err := s.client.SMembers(ctx, nameKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("chrono/redis: single lookup: %w", err)
	}

	for _, jID := range ids {
		vals, getErr := s.client.HGetAll(ctx, jobKey(jID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("chrono/redis: single lookup fetch: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		j, convErr := mapToJob(vals)
		if convErr != nil {
			return nil, convErr
		}
		if j.Type == job.TypeSingle && !j.Disabled && j.LockedAt == nil {
			return j, nil
		}
	}
	return nil, nil
}

// enumerate fetches every record, optionally restricted to one name.
func (s *Store) enumerate(ctx context.Context, name string) ([]*job.Job, error) {
	indexKey := jobIDsKey
	if name != "" {
		indexKey = nameKey(name)
	}

	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("chrono/redis: enumerate: %w", err)
	}

	var jobs []*job.Job
	for _, jID := range ids {
		vals, getErr := s.client.HGetAll(ctx, jobKey(jID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("chrono/redis: enumerate fetch: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		j, convErr := mapToJob(vals)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ── Hash codec ────────────────────────────────────────────────────

// Times are stored as unix milliseconds; empty string means unset.

func msOf(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func timeOf(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func jobToMap(j *job.Job) map[string]any {
	return map[string]any{
		"id":               j.ID.String(),
		"name":             j.Name,
		"data":             string(j.Data),
		"type":             string(j.Type),
		"priority":         strconv.Itoa(j.Priority),
		"disabled":         boolField(j.Disabled),
		"next_run_at":      msOf(j.NextRunAt),
		"repeat_interval":  j.RepeatInterval,
		"repeat_timezone":  j.RepeatTimezone,
		"locked_at":        msOf(j.LockedAt),
		"last_run_at":      msOf(j.LastRunAt),
		"last_finished_at": msOf(j.LastFinishedAt),
		"fail_count":       strconv.Itoa(j.FailCount),
		"fail_reason":      j.FailReason,
		"failed_at":        msOf(j.FailedAt),
		"last_modified_by": j.LastModifiedBy,
		"created_at":       strconv.FormatInt(j.CreatedAt.UnixMilli(), 10),
		"updated_at":       strconv.FormatInt(j.UpdatedAt.UnixMilli(), 10),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("chrono/redis: parse job id %q: %w", m["id"], err)
	}

	priority, _ := strconv.Atoi(m["priority"])    //nolint:errcheck // written by jobToMap
	failCount, _ := strconv.Atoi(m["fail_count"]) //nolint:errcheck // written by jobToMap

	j := &job.Job{
		ID:             parsedID,
		Name:           m["name"],
		Type:           job.Type(m["type"]),
		Priority:       priority,
		Disabled:       m["disabled"] == "1",
		NextRunAt:      timeOf(m["next_run_at"]),
		RepeatInterval: m["repeat_interval"],
		RepeatTimezone: m["repeat_timezone"],
		LockedAt:       timeOf(m["locked_at"]),
		LastRunAt:      timeOf(m["last_run_at"]),
		LastFinishedAt: timeOf(m["last_finished_at"]),
		FailCount:      failCount,
		FailReason:     m["fail_reason"],
		FailedAt:       timeOf(m["failed_at"]),
		LastModifiedBy: m["last_modified_by"],
	}
	if m["data"] != "" {
		j.Data = []byte(m["data"])
	}
	if t := timeOf(m["created_at"]); t != nil {
		j.CreatedAt = *t
	}
	if t := timeOf(m["updated_at"]); t != nil {
		j.UpdatedAt = *t
	}
	return j, nil
}
