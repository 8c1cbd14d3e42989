package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"calidad/internal/domain"
)

// RunLogStore persists pipeline run history.
type RunLogStore struct {
	db *DB
}

// NewRunLogStore creates a RunLogStore.
func NewRunLogStore(db *DB) *RunLogStore {
	return &RunLogStore{db: db}
}

// Create inserts a run log, assigning its id.
func (s *RunLogStore) Create(ctx context.Context, rl *domain.RunLog) error {
	rl.ID = uuid.New().String()
	_, err := s.db.conn.ExecContext(ctx, s.db.dialect.rebind(
		`INSERT INTO pipeline_runs (id, data_type, source_file, started_at, finished_at,
		 status, rows_read, rows_loaded, dropped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rl.ID, rl.DataType, rl.SourceFile, rl.StartedAt, rl.FinishedAt,
		rl.Status, rl.RowsRead, rl.RowsLoaded, rl.Dropped, rl.Error,
	)
	if err != nil {
		return fmt.Errorf("create run log: %w", err)
	}
	return nil
}

// List returns the most recent runs for a data type, newest first.
func (s *RunLogStore) List(ctx context.Context, dataType string, limit int) ([]domain.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.QueryContext(ctx, s.db.dialect.rebind(
		`SELECT id, data_type, source_file, started_at, finished_at,
		 status, rows_read, rows_loaded, dropped, error
		 FROM pipeline_runs WHERE data_type = ?
		 ORDER BY started_at DESC LIMIT `+fmt.Sprint(limit)), dataType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.RunLog
	for rows.Next() {
		var rl domain.RunLog
		if err := rows.Scan(
			&rl.ID, &rl.DataType, &rl.SourceFile, &rl.StartedAt, &rl.FinishedAt,
			&rl.Status, &rl.RowsRead, &rl.RowsLoaded, &rl.Dropped, &rl.Error,
		); err != nil {
			return nil, err
		}
		logs = append(logs, rl)
	}
	return logs, rows.Err()
}
