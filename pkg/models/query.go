package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// QueryStatusPending: registered, dispatch not yet finished. A crashed
	// publication run leaves the query here and the next sweep resumes it
	// from published_count.
	QueryStatusPending = "pending"
	// QueryStatusPublished: every matching catalog record has been dispatched.
	QueryStatusPublished = "published"
	// QueryStatusCompleted: all dispatched items reached a terminal state.
	QueryStatusCompleted = "completed"
)

// Query is a registered classification query against a (dataset, language)
// pair. PublishedCount doubles as the resumable partitioning offset;
// ProcessedCount advances as job callbacks are reconciled.
type Query struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	Dataset        string    `db:"dataset"         json:"dataset"`
	Language       string    `db:"language"        json:"language"`
	QueryText      string    `db:"query_text"      json:"query_text"`
	Model          string    `db:"model"           json:"model"`
	Owner          string    `db:"owner"           json:"owner"`
	Status         string    `db:"status"          json:"status"`
	PublishedCount int64     `db:"published_count" json:"published_count"`
	ProcessedCount int64     `db:"processed_count" json:"processed_count"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}
