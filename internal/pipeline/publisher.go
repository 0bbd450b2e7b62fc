// Package pipeline partitions dataset catalogs into bounded batches and
// dispatches them to the classification service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"querydock/internal/cache"
	"querydock/internal/classify"
	"querydock/internal/store"
	"querydock/pkg/models"
)

var (
	// ErrNoMatchingDataset: the query's (dataset, language) pair has no
	// catalog rows at all, which usually means a misregistered query.
	ErrNoMatchingDataset = errors.New("no matching dataset for query")
	// ErrPublishLocked: another run holds the per-query dispatch lock.
	ErrPublishLocked = errors.New("query is already being published")
)

const defaultBatchSize = 1000

// Publisher walks a query's dataset catalog in fixed-size windows, dispatches
// each window to the classification service, and durably records the
// resulting ledger rows. The query's published_count is the resumable offset:
// it only advances inside the transaction that records a batch, so a crash
// never skips or repeats records.
type Publisher struct {
	store      store.Store
	classifier classify.Client
	locks      cache.Cache
	batchSize  int
	lockTTL    time.Duration
}

// NewPublisher creates a Publisher. batchSize <= 0 falls back to the default.
func NewPublisher(st store.Store, cl classify.Client, locks cache.Cache, batchSize int, lockTTL time.Duration) *Publisher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Publisher{
		store:      st,
		classifier: cl,
		locks:      locks,
		batchSize:  batchSize,
		lockTTL:    lockTTL,
	}
}

// PublishQuery dispatches all remaining catalog records for one query,
// resuming from the durably recorded offset. Returns the number of records
// dispatched by this run. The walk is interruptible between batches: a
// context error aborts the run but every committed batch stays committed.
func (p *Publisher) PublishQuery(ctx context.Context, queryID uuid.UUID) (int64, error) {
	lockKey := cache.PublishLockKey(queryID)
	acquired, err := p.locks.AcquireLock(ctx, lockKey, p.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire publish lock: %w", err)
	}
	if !acquired {
		return 0, ErrPublishLocked
	}
	defer p.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey)

	q, err := p.store.GetQuery(ctx, queryID)
	if err != nil {
		return 0, fmt.Errorf("load query: %w", err)
	}

	total, err := p.store.CountDatasetRecords(ctx, q.Dataset, q.Language)
	if err != nil {
		return 0, fmt.Errorf("count dataset records: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: dataset=%q language=%q", ErrNoMatchingDataset, q.Dataset, q.Language)
	}

	var published int64
	offset := q.PublishedCount
	for {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		records, err := p.store.ListDatasetSlice(ctx, q.Dataset, q.Language, offset, int64(p.batchSize))
		if err != nil {
			return published, fmt.Errorf("read slice at offset %d: %w", offset, err)
		}
		if len(records) == 0 {
			break
		}

		items := make([]classify.BatchItem, len(records))
		for i, rec := range records {
			items[i] = classify.BatchItem{
				DataURL:              rec.StorageKey,
				BatchSize:            0,
				ByteSize:             rec.ByteSize,
				DecompressedByteSize: rec.DecompressedByteSize,
				ChecksumMD5:          rec.MD5,
				ClassifierID:         q.ID.String(),
			}
		}

		// The network call happens before, and outside, the recording
		// transaction. A timeout here means the batch is treated as not
		// dispatched; the next run re-reads the same window.
		jobIDs, err := p.classifier.PublishBatch(ctx, classify.PublishBatchRequest{Data: items})
		if err != nil {
			return published, fmt.Errorf("dispatch batch at offset %d: %w", offset, err)
		}

		entries := make([]store.PendingResult, len(jobIDs))
		for i, jobID := range jobIDs {
			entries[i] = store.PendingResult{JobID: jobID, DatasetID: records[i].ID}
		}

		if err := p.store.RecordDispatchedBatch(ctx, q.ID, offset, entries); err != nil {
			return published, fmt.Errorf("record batch at offset %d: %w", offset, err)
		}

		offset += int64(len(records))
		published += int64(len(records))
		slog.Info("batch dispatched",
			"query_id", q.ID,
			"batch_size", len(records),
			"offset", offset,
		)
	}

	if err := p.store.MarkQueryPublished(ctx, q.ID); err != nil {
		return published, fmt.Errorf("mark query published: %w", err)
	}
	return published, nil
}

// PublishAll sweeps every pending query and publishes it. Per-query failures
// are logged and do not stop the sweep; a cancelled context does.
func (p *Publisher) PublishAll(ctx context.Context) error {
	queries, err := p.store.ListQueriesByStatus(ctx, models.QueryStatusPending)
	if err != nil {
		return fmt.Errorf("list pending queries: %w", err)
	}

	for _, q := range queries {
		published, err := p.PublishQuery(ctx, q.ID)
		switch {
		case err == nil:
			slog.Info("query published", "query_id", q.ID, "records", published)
		case errors.Is(err, ErrPublishLocked):
			slog.Debug("query locked by another run", "query_id", q.ID)
		case errors.Is(err, ErrNoMatchingDataset):
			slog.Warn("query has no matching dataset", "query_id", q.ID, "dataset", q.Dataset, "language", q.Language)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			slog.Error("publish query failed", "query_id", q.ID, "error", err)
		}
	}
	return nil
}
