package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"querydock/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Dataset catalog ---

// UpsertDatasets inserts catalog rows, skipping rows whose md5 already
// exists. Returns the number of rows actually inserted.
func (s *PostgresStore) UpsertDatasets(ctx context.Context, datasets []*models.Dataset) (int64, error) {
	if len(datasets) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, d := range datasets {
		batch.Queue(
			`INSERT INTO datasets (name, language, data_type, storage_key, md5, num_of_records, byte_size, decompressed_byte_size, source)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (md5) DO NOTHING`,
			d.Name, d.Language, d.DataType, d.StorageKey, d.MD5,
			d.NumOfRecords, d.ByteSize, d.DecompressedByteSize, d.Source)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range datasets {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("upsert dataset: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (s *PostgresStore) CountDatasetRecords(ctx context.Context, name, language string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM datasets WHERE name = $1 AND language = $2`,
		name, language,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count dataset records: %w", err)
	}
	return count, nil
}

// ListDatasetSlice returns the next window of catalog rows for a
// (name, language) pair in ascending id order. The stable order is what makes
// offset-based partitioning resumable.
func (s *PostgresStore) ListDatasetSlice(ctx context.Context, name, language string, offset, limit int64) ([]*models.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, language, data_type, storage_key, md5, num_of_records, byte_size, decompressed_byte_size, source, created_at
		 FROM datasets WHERE name = $1 AND language = $2
		 ORDER BY id LIMIT $3 OFFSET $4`,
		name, language, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dataset slice: %w", err)
	}
	defer rows.Close()

	var datasets []*models.Dataset
	for rows.Next() {
		var d models.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Language, &d.DataType, &d.StorageKey, &d.MD5,
			&d.NumOfRecords, &d.ByteSize, &d.DecompressedByteSize, &d.Source, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, &d)
	}
	return datasets, rows.Err()
}

// --- Query registry ---

func (s *PostgresStore) CreateQuery(ctx context.Context, q *models.Query) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queries (id, dataset, language, query_text, model, owner, status, published_count, processed_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		q.ID, q.Dataset, q.Language, q.QueryText, q.Model, q.Owner,
		q.Status, q.PublishedCount, q.ProcessedCount, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("create query: %w", err)
	}
	return nil
}

const queryColumns = `id, dataset, language, query_text, model, owner, status, published_count, processed_count, created_at`

func scanQuery(row pgx.Row) (*models.Query, error) {
	var q models.Query
	err := row.Scan(&q.ID, &q.Dataset, &q.Language, &q.QueryText, &q.Model, &q.Owner,
		&q.Status, &q.PublishedCount, &q.ProcessedCount, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *PostgresStore) GetQuery(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	q, err := scanQuery(s.pool.QueryRow(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get query: %w", err)
	}
	return q, nil
}

// GetQueryForOwner returns the query only if owner matches; a mismatch is
// indistinguishable from a missing row.
func (s *PostgresStore) GetQueryForOwner(ctx context.Context, id uuid.UUID, owner string) (*models.Query, error) {
	q, err := scanQuery(s.pool.QueryRow(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = $1 AND owner = $2`, id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get query for owner: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) ListQueriesByOwner(ctx context.Context, owner string) ([]*models.Query, error) {
	return s.listQueries(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE owner = $1 ORDER BY created_at DESC, id`, owner)
}

func (s *PostgresStore) ListQueriesByStatus(ctx context.Context, status string) ([]*models.Query, error) {
	return s.listQueries(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE status = $1 ORDER BY created_at, id`, status)
}

func (s *PostgresStore) listQueries(ctx context.Context, sql string, arg any) ([]*models.Query, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	var queries []*models.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// MarkQueryPublished moves a pending query to published once its dataset is
// exhausted. If every callback already arrived mid-run, the query jumps
// straight to completed. Idempotent: a query already past pending is left
// untouched.
func (s *PostgresStore) MarkQueryPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE queries
		 SET status = CASE WHEN published_count > 0 AND processed_count >= published_count
		                   THEN 'completed' ELSE 'published' END
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark query published: %w", err)
	}
	return nil
}

// --- Result ledger ---

// RecordDispatchedBatch persists one dispatched batch atomically: the ledger
// rows are created pending and published_count advances by the batch size, in
// a single transaction. The counter update doubles as an optimistic check:
// if published_count no longer equals fromOffset another run already
// dispatched this window and the whole transaction rolls back.
func (s *PostgresStore) RecordDispatchedBatch(ctx context.Context, queryID uuid.UUID, fromOffset int64, entries []PendingResult) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record batch: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE queries SET published_count = published_count + $1
		 WHERE id = $2 AND published_count = $3`,
		len(entries), queryID, fromOffset)
	if err != nil {
		return fmt.Errorf("advance published count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleOffset
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO query_results (query_id, job_id, dataset_id, status)
			 VALUES ($1, $2, $3, $4)`,
			queryID, e.JobID, e.DatasetID, models.ResultStatusPending)
	}

	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isDuplicateKeyError(err) {
				return ErrDuplicateJob
			}
			return fmt.Errorf("insert ledger row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close ledger batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record batch: %w", err)
	}
	return nil
}

// ApplyJobCallback merges one completion callback into the ledger and the
// owning query's processed_count, in a single transaction. The row lock taken
// by FOR UPDATE serializes concurrent callbacks for the same job id; the
// second one finds a terminal row and takes the idempotent or conflict path.
func (s *PostgresStore) ApplyJobCallback(ctx context.Context, jobID string, outcome CallbackOutcome) error {
	status, payload, err := encodeOutcome(outcome)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin apply callback: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		resultID  int64
		queryID   uuid.UUID
		curStatus string
		stored    []byte
	)
	err = tx.QueryRow(ctx,
		`SELECT id, query_id, status, result FROM query_results WHERE job_id = $1 FOR UPDATE`,
		jobID,
	).Scan(&resultID, &queryID, &curStatus, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownJob
	}
	if err != nil {
		return fmt.Errorf("lookup ledger row: %w", err)
	}

	if curStatus != models.ResultStatusPending {
		// Re-delivery of the same outcome is a no-op; anything else is a bug
		// worth surfacing.
		if curStatus == status && jsonEqual(stored, payload) {
			return nil
		}
		return ErrDuplicateCallback
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE query_results SET status = $1, result = $2, finished_at = $3 WHERE id = $4`,
		status, payload, now, resultID); err != nil {
		return fmt.Errorf("update ledger row: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE queries
		 SET processed_count = processed_count + 1,
		     status = CASE WHEN status = 'published' AND processed_count + 1 >= published_count
		                   THEN 'completed' ELSE status END
		 WHERE id = $1`, queryID); err != nil {
		return fmt.Errorf("advance processed count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit apply callback: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountProcessedResults(ctx context.Context, queryID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM query_results
		 WHERE query_id = $1 AND status = $2 AND result IS NOT NULL`,
		queryID, models.ResultStatusProcessed,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count processed results: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListProcessedResults(ctx context.Context, queryID uuid.UUID, limit, offset int64) ([]*models.QueryResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, query_id, job_id, dataset_id, status, result, finished_at, created_at
		 FROM query_results
		 WHERE query_id = $1 AND status = $2 AND result IS NOT NULL
		 ORDER BY id LIMIT $3 OFFSET $4`,
		queryID, models.ResultStatusProcessed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list processed results: %w", err)
	}
	defer rows.Close()

	var results []*models.QueryResult
	for rows.Next() {
		var r models.QueryResult
		if err := rows.Scan(&r.ID, &r.QueryID, &r.JobID, &r.DatasetID, &r.Status,
			&r.Result, &r.FinishedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan query result: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// encodeOutcome maps a callback outcome onto the terminal status and the JSON
// payload stored in the ledger row.
func encodeOutcome(outcome CallbackOutcome) (string, []byte, error) {
	if outcome.ErrorResult != nil {
		payload, err := json.Marshal(outcome.ErrorResult)
		if err != nil {
			return "", nil, fmt.Errorf("encode error payload: %w", err)
		}
		return models.ResultStatusError, payload, nil
	}

	results := outcome.ClassifyResults
	if results == nil {
		results = []models.ClassifyResult{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return "", nil, fmt.Errorf("encode classify payload: %w", err)
	}
	return models.ResultStatusProcessed, payload, nil
}

// jsonEqual compares two JSON documents structurally, ignoring key order and
// whitespace (jsonb storage does not preserve either).
func jsonEqual(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
