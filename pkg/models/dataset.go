// Package models contains shared data models used across the querydock codebase.
package models

import "time"

// Dataset is one ingested content object in the dataset catalog.
// Rows are written by the ingestion sweep (idempotent on MD5) and are
// read-only from the publication pipeline's perspective.
type Dataset struct {
	ID                   int64     `db:"id"                     json:"id"`
	Name                 string    `db:"name"                   json:"name"`
	Language             string    `db:"language"               json:"language"`
	DataType             string    `db:"data_type"              json:"data_type"`
	StorageKey           string    `db:"storage_key"            json:"storage_key"`
	MD5                  string    `db:"md5"                    json:"md5"`
	NumOfRecords         int       `db:"num_of_records"         json:"num_of_records"`
	ByteSize             int64     `db:"byte_size"              json:"byte_size"`
	DecompressedByteSize int64     `db:"decompressed_byte_size" json:"decompressed_byte_size"`
	Source               string    `db:"source"                 json:"source"`
	CreatedAt            time.Time `db:"created_at"             json:"created_at"`
}
