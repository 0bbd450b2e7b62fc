package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"querydock/pkg/models"
)

var (
	// ErrNotFound covers both nonexistent rows and ownership mismatches, so
	// callers cannot distinguish someone else's query from no query at all.
	ErrNotFound = errors.New("resource not found")

	// ErrStaleOffset means another publication run advanced published_count
	// between reading the offset and recording the batch.
	ErrStaleOffset = errors.New("published offset advanced concurrently")

	// ErrDuplicateJob means a ledger row already exists for a job id, which
	// indicates an accidental double-dispatch.
	ErrDuplicateJob = errors.New("duplicate job id in ledger")

	// ErrUnknownJob means a callback referenced a job id that was never
	// recorded; the callback is dropped, not queued.
	ErrUnknownJob = errors.New("unknown job id")

	// ErrDuplicateCallback means a callback arrived for an already-terminal
	// ledger row with a payload differing from the recorded one.
	ErrDuplicateCallback = errors.New("conflicting callback for terminal job")
)

// PendingResult is one ledger row to create when a dispatched batch is
// recorded: the externally assigned job id plus the catalog record it covers.
type PendingResult struct {
	JobID     string
	DatasetID int64
}

// CallbackOutcome carries the terminal payload of a job callback. Exactly one
// of ClassifyResults and ErrorResult is set; handlers enforce exclusivity
// before calling the store.
type CallbackOutcome struct {
	ClassifyResults []models.ClassifyResult
	ErrorResult     *models.ErrorResult
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// Dataset catalog.
	UpsertDatasets(ctx context.Context, datasets []*models.Dataset) (int64, error)
	CountDatasetRecords(ctx context.Context, name, language string) (int64, error)
	ListDatasetSlice(ctx context.Context, name, language string, offset, limit int64) ([]*models.Dataset, error)

	// Query registry.
	CreateQuery(ctx context.Context, q *models.Query) error
	GetQuery(ctx context.Context, id uuid.UUID) (*models.Query, error)
	GetQueryForOwner(ctx context.Context, id uuid.UUID, owner string) (*models.Query, error)
	ListQueriesByOwner(ctx context.Context, owner string) ([]*models.Query, error)
	ListQueriesByStatus(ctx context.Context, status string) ([]*models.Query, error)
	MarkQueryPublished(ctx context.Context, id uuid.UUID) error

	// Result ledger.
	RecordDispatchedBatch(ctx context.Context, queryID uuid.UUID, fromOffset int64, entries []PendingResult) error
	ApplyJobCallback(ctx context.Context, jobID string, outcome CallbackOutcome) error
	CountProcessedResults(ctx context.Context, queryID uuid.UUID) (int64, error)
	ListProcessedResults(ctx context.Context, queryID uuid.UUID, limit, offset int64) ([]*models.QueryResult, error)
}
