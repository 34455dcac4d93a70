package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/chrono/job"
)

// colJobs is the single collection all job records live in. Worker
// processes from different deployments share it; the collection is the
// coordination point.
const colJobs = "chrono_jobs"

// Ensure Store implements the job store contract at compile time.
var _ job.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store. The caller owns
// the *mongo.Client lifecycle; Store never closes it.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	jobs   *mongod.Collection
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a MongoDB store on the given database. The caller owns
// the client lifecycle — the Store will not disconnect it on Close().
func New(client *mongod.Client, database string, opts ...Option) *Store {
	db := client.Database(database)
	s := &Store{
		client: client,
		db:     db,
		jobs:   db.Collection(colJobs),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying *mongo.Database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the indexes the scan and claim paths rely on.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.jobs.Indexes().CreateMany(ctx, migrationIndexes())
	if err != nil {
		return fmt.Errorf("chrono/mongo: migrate %s indexes: %w", colJobs, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// migrationIndexes returns the index definitions for the jobs collection.
func migrationIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Due-scan index: the scan filter walks disabled + next_run_at
		// + locked_at in one pass.
		{Keys: bson.D{
			{Key: "disabled", Value: 1},
			{Key: "next_run_at", Value: 1},
			{Key: "locked_at", Value: 1},
		}},
		// Scan ordering: priority descending, then earliest due first.
		{Keys: bson.D{
			{Key: "priority", Value: -1},
			{Key: "next_run_at", Value: 1},
		}},
		// Single-record upsert filter and name listings.
		{Keys: bson.D{
			{Key: "name", Value: 1},
			{Key: "type", Value: 1},
		}},
	}
}
