package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

// claimableFilter is the shared claim condition: enabled, due at t,
// and unlocked or holding a lock older than the staleness threshold.
func claimableFilter(t time.Time, staleness time.Duration) bson.M {
	return bson.M{
		"disabled":    false,
		"next_run_at": bson.M{"$lte": t},
		"$or": []bson.M{
			{"locked_at": nil},
			{"locked_at": bson.M{"$lt": t.Add(-staleness)}},
		},
	}
}

// SaveJob persists a job. TypeSingle jobs upsert the existing
// undisabled, unlocked record with the same name in one atomic
// FindOneAndUpdate; the caller's record adopts the persisted identity.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()

	if j.Type != job.TypeSingle {
		if _, err := s.jobs.InsertOne(ctx, m); err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("chrono/mongo: save job: duplicate id %s: %w", m.ID, err)
			}
			return fmt.Errorf("chrono/mongo: save job: %w", err)
		}
		return nil
	}

	filter := bson.M{
		"name":      j.Name,
		"type":      string(job.TypeSingle),
		"disabled":  false,
		"locked_at": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"name":             m.Name,
			"data":             m.Data,
			"type":             m.Type,
			"priority":         m.Priority,
			"disabled":         m.Disabled,
			"next_run_at":      m.NextRunAt,
			"repeat_interval":  m.RepeatInterval,
			"repeat_timezone":  m.RepeatTimezone,
			"last_modified_by": m.LastModifiedBy,
			"updated_at":       m.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"_id":        m.ID,
			"locked_at":  nil,
			"created_at": m.CreatedAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var persisted jobModel
	if err := s.jobs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&persisted); err != nil {
		return fmt.Errorf("chrono/mongo: upsert single job: %w", err)
	}

	// An upsert that matched keeps the old record's identity; reflect
	// it back so the caller holds the persisted ID.
	adopted, err := id.ParseJobID(persisted.ID)
	if err != nil {
		return fmt.Errorf("chrono/mongo: parse upserted job id %q: %w", persisted.ID, err)
	}
	j.ID = adopted
	j.CreatedAt = persisted.CreatedAt
	j.UpdatedAt = persisted.UpdatedAt
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs.FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, chrono.ErrJobNotFound
		}
		return nil, fmt.Errorf("chrono/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.jobs.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("chrono/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs.DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("chrono/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DueJobs returns up to limit claimable candidates ordered by priority
// descending then NextRunAt ascending. The list is advisory — every
// entry must still win its atomic claim before running.
func (s *Store) DueJobs(ctx context.Context, t time.Time, staleness time.Duration, limit int) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "next_run_at", Value: 1},
	})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.jobs.Find(ctx, claimableFilter(t, staleness), findOpts)
	if err != nil {
		return nil, fmt.Errorf("chrono/mongo: due jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("chrono/mongo: due jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("chrono/mongo: due jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ClaimJob atomically acquires the processing lock on a job. The claim
// condition and the lock write are a single FindOneAndUpdate, so under
// concurrent attempts exactly one worker's filter matches.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, t time.Time, staleness time.Duration) (*job.Job, error) {
	filter := claimableFilter(t, staleness)
	filter["_id"] = jobID.String()

	update := bson.M{
		"$set": bson.M{
			"locked_at":        t,
			"last_modified_by": workerID.String(),
			"updated_at":       t,
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.jobs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return fromJobModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("chrono/mongo: claim job: %w", err)
	}

	// The claim missed. A follow-up read distinguishes a live lock
	// from a vanished or no-longer-claimable record; informational
	// only, the claim itself already failed atomically.
	existing, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, chrono.ErrJobNotFound
	}
	if existing.LockedAt != nil && !existing.LockStale(t, staleness) {
		return nil, chrono.ErrLockHeld
	}
	return nil, chrono.ErrJobNotFound
}

// ReleaseJob unconditionally clears the job's lock.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{"$set": bson.M{
			"locked_at":        nil,
			"last_modified_by": workerID.String(),
			"updated_at":       now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("chrono/mongo: release job: %w", err)
	}
	if res.MatchedCount == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the given options, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.Name != "" {
		filter["name"] = opts.Name
	}
	if opts.Disabled != nil {
		filter["disabled"] = *opts.Disabled
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.jobs.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("chrono/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("chrono/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("chrono/mongo: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Name != "" {
		filter["name"] = opts.Name
	}
	if opts.Locked != nil {
		if *opts.Locked {
			filter["locked_at"] = bson.M{"$ne": nil}
		} else {
			filter["locked_at"] = nil
		}
	}

	count, err := s.jobs.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("chrono/mongo: count jobs: %w", err)
	}
	return count, nil
}
