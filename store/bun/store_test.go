//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
	bunstore "github.com/xraph/chrono/store/bun"
)

// setupTestStore creates a Postgres container and returns a connected Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("chrono_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func newTestJob(name string, due time.Time) *job.Job {
	return &job.Job{
		Entity:    chrono.NewEntity(),
		ID:        id.NewJobID(),
		Name:      name,
		Data:      []byte(`{"key":"value"}`),
		Type:      job.TypeNormal,
		NextRunAt: &due,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Job store tests
// ──────────────────────────────────────────────────

func TestJobStore_SaveAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	due := time.Now().UTC().Truncate(time.Millisecond)
	j := newTestJob("send-email", due)
	j.Priority = 5
	j.RepeatInterval = "5m"

	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save job: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Name != "send-email" {
		t.Errorf("name = %q, want send-email", got.Name)
	}
	if got.Priority != 5 {
		t.Errorf("priority = %d, want 5", got.Priority)
	}
	if got.RepeatInterval != "5m" {
		t.Errorf("repeat interval = %q, want 5m", got.RepeatInterval)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(due) {
		t.Errorf("next run at = %v, want %v", got.NextRunAt, due)
	}
	if got.LockedAt != nil {
		t.Errorf("locked at = %v, want nil", got.LockedAt)
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, chrono.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestJobStore_UpdateAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newTestJob("cleanup", time.Now().UTC())
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save job: %v", err)
	}

	j.Disabled = true
	j.FailCount = 2
	j.FailReason = "boom"
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("update job: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !got.Disabled || got.FailCount != 2 || got.FailReason != "boom" {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("delete job: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, chrono.ErrJobNotFound) {
		t.Fatalf("get after delete: err = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, chrono.ErrJobNotFound) {
		t.Fatalf("second delete: err = %v, want ErrJobNotFound", err)
	}
}

func TestJobStore_DueJobsOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	low := newTestJob("low", now.Add(-2*time.Minute))
	low.Priority = 1
	high := newTestJob("high", now.Add(-time.Minute))
	high.Priority = 10
	future := newTestJob("future", now.Add(time.Hour))

	for _, j := range []*job.Job{low, high, future} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("save %s: %v", j.Name, err)
		}
	}

	due, err := s.DueJobs(ctx, now, 10*time.Minute, 10)
	if err != nil {
		t.Fatalf("due jobs: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due count = %d, want 2", len(due))
	}
	if due[0].Name != "high" || due[1].Name != "low" {
		t.Errorf("order = [%s %s], want [high low]", due[0].Name, due[1].Name)
	}
}

func TestJobStore_ClaimProtocol(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	staleness := 10 * time.Minute

	j := newTestJob("report", now.Add(-time.Minute))
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save job: %v", err)
	}

	alice := id.NewWorkerID()
	bob := id.NewWorkerID()

	claimed, err := s.ClaimJob(ctx, j.ID, alice, now, staleness)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if claimed.LockedAt == nil || claimed.LockedAt.Sub(now).Abs() > time.Second {
		t.Errorf("locked at = %v, want claim time %v", claimed.LockedAt, now)
	}
	if claimed.LastModifiedBy != alice.String() {
		t.Errorf("last modified by = %q, want %q", claimed.LastModifiedBy, alice)
	}

	// A second worker must see the live lock.
	if _, err := s.ClaimJob(ctx, j.ID, bob, now.Add(time.Second), staleness); !errors.Is(err, chrono.ErrLockHeld) {
		t.Fatalf("second claim: err = %v, want ErrLockHeld", err)
	}

	// Once the lock exceeds staleness it is reclaimable.
	later := now.Add(staleness + time.Minute)
	reclaimed, err := s.ClaimJob(ctx, j.ID, bob, later, staleness)
	if err != nil {
		t.Fatalf("stale reclaim: %v", err)
	}
	if reclaimed.LastModifiedBy != bob.String() {
		t.Errorf("reclaim holder = %q, want %q", reclaimed.LastModifiedBy, bob)
	}
}

func TestJobStore_ClaimMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.ClaimJob(context.Background(), id.NewJobID(), id.NewWorkerID(), time.Now().UTC(), 10*time.Minute)
	if !errors.Is(err, chrono.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestJobStore_Release(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newTestJob("release-me", now.Add(-time.Minute))
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save job: %v", err)
	}

	worker := id.NewWorkerID()
	if _, err := s.ClaimJob(ctx, j.ID, worker, now, 10*time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ReleaseJob(ctx, j.ID, worker); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.LockedAt != nil {
		t.Errorf("locked at = %v, want nil after release", got.LockedAt)
	}
}

func TestJobStore_SingleUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := newTestJob("nightly-report", time.Now().UTC().Add(time.Hour))
	first.Type = job.TypeSingle
	if err := s.SaveJob(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}

	// A second single save with the same name must coalesce onto the
	// live record and adopt its identity.
	second := newTestJob("nightly-report", time.Now().UTC().Add(2*time.Hour))
	second.Type = job.TypeSingle
	second.Priority = 7
	if err := s.SaveJob(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second id = %s, want adopted %s", second.ID, first.ID)
	}

	count, err := s.CountJobs(ctx, job.CountOpts{Name: "nightly-report"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	got, err := s.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Priority != 7 {
		t.Errorf("priority = %d, want updated 7", got.Priority)
	}
}

func TestJobStore_ListAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for range 3 {
		if err := s.SaveJob(ctx, newTestJob("bulk", now)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	disabled := newTestJob("bulk", now)
	disabled.Disabled = true
	if err := s.SaveJob(ctx, disabled); err != nil {
		t.Fatalf("save disabled: %v", err)
	}
	if err := s.SaveJob(ctx, newTestJob("other", now)); err != nil {
		t.Fatalf("save other: %v", err)
	}

	byName, err := s.ListJobs(ctx, job.ListOpts{Name: "bulk"})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(byName) != 4 {
		t.Errorf("list by name = %d, want 4", len(byName))
	}

	enabled := false
	active, err := s.ListJobs(ctx, job.ListOpts{Name: "bulk", Disabled: &enabled})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("active = %d, want 3", len(active))
	}

	page, err := s.ListJobs(ctx, job.ListOpts{Name: "bulk", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page = %d, want 2", len(page))
	}

	total, err := s.CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}

	unlocked := false
	free, err := s.CountJobs(ctx, job.CountOpts{Locked: &unlocked})
	if err != nil {
		t.Fatalf("count unlocked: %v", err)
	}
	if free != 5 {
		t.Errorf("unlocked = %d, want 5", free)
	}
}
