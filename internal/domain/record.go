package domain

import "time"

// ── Record ─────────────────────────────────────────────────
// The unit of storage and transfer. Records are created in-memory by the
// transform engine, persisted in bulk by the loader, and read-only until
// the next full replacement of their data_type partition.

// ProcessedData is the nested document stored alongside each record:
// the normalized field set plus provenance.
type ProcessedData struct {
	RecordID    string         `json:"record_id"`
	RowIndex    int            `json:"row_index"`
	ProcessedAt time.Time      `json:"processed_at"`
	Data        map[string]any `json:"data"`
}

// Record is a single normalized row of a source dataset.
type Record struct {
	ID         string         `json:"id"`
	SourceFile string         `json:"source_file"`
	DataType   string         `json:"data_type"`
	RawData    map[string]any `json:"raw_data,omitempty"`

	ProcessedData ProcessedData `json:"processed_data"`

	// SortOrder is the record's ordinal within its load batch. It keeps
	// intra-batch ordering stable: every record of one load shares the
	// same created_at, so created_at alone cannot order them.
	SortOrder int `json:"-"`

	// Batch timestamp — identical for all records written in one load.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadSummary is the outcome of a successful atomic load.
type LoadSummary struct {
	DataType      string `json:"dataType"`
	PreviousCount int    `json:"previousCount"`
	NewCount      int    `json:"newCount"`

	// Dropped counts source rows excluded by the transform's drop rule.
	// Reported so that silent data loss is at least visible per run.
	Dropped int `json:"dropped"`
}

// RunLog is a historical record of one pipeline run.
type RunLog struct {
	ID         string    `json:"id"`
	DataType   string    `json:"dataType"`
	SourceFile string    `json:"sourceFile"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"` // "success" | "error"
	RowsRead   int       `json:"rowsRead"`
	RowsLoaded int       `json:"rowsLoaded"`
	Dropped    int       `json:"dropped"`
	Error      string    `json:"error,omitempty"`
}

// TypeStats is the per-partition count summary served by the stats endpoint.
type TypeStats struct {
	DataType       string    `json:"data_type"`
	RecordCount    int       `json:"record_count"`
	SourceFiles    int       `json:"source_files"`
	EarliestRecord time.Time `json:"earliest_record"`
	LatestRecord   time.Time `json:"latest_record"`
}
