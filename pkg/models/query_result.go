package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ResultStatusPending   = "pending"
	ResultStatusProcessed = "processed"
	ResultStatusError     = "error"
)

// QueryResult is one ledger entry: the lifecycle of a single dispatched item
// from pending dispatch to its terminal processed/error state. JobID is the
// identifier assigned by the external classification service and is the join
// key between dispatch and callback.
type QueryResult struct {
	ID         int64           `db:"id"          json:"id"`
	QueryID    uuid.UUID       `db:"query_id"    json:"query_id"`
	JobID      string          `db:"job_id"      json:"job_id"`
	DatasetID  int64           `db:"dataset_id"  json:"dataset_id"`
	Status     string          `db:"status"      json:"status"`
	Result     json.RawMessage `db:"result"      json:"result,omitempty"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time       `db:"created_at"  json:"created_at"`
}
