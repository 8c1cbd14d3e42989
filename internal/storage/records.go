package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"calidad/internal/domain"
)

const recordColumns = "id, source_file, data_type, raw_data, processed_data, sort_order, created_at, updated_at"

// RecordStore persists and queries the record partitions. Loads go
// through ReplaceDataType only; there is no per-record mutation API.
type RecordStore struct {
	db      *DB
	allowed map[string]bool
}

// NewRecordStore creates a RecordStore. filterFields is the fixed
// allow-list of processed_data.data keys accepted by Query; filter keys
// never reach query text without passing it.
func NewRecordStore(db *DB, filterFields []string) *RecordStore {
	allowed := make(map[string]bool, len(filterFields))
	for _, f := range filterFields {
		allowed[f] = true
	}
	return &RecordStore{db: db, allowed: allowed}
}

// ── Atomic load ────────────────────────────────────────────

// ReplaceDataType atomically replaces the live partition for dataType
// with records. The whole sequence — stage, verify, delete live, copy,
// verify, clear — runs in one transaction, so a concurrent reader sees
// either the complete old dataset or the complete new one, never a mix.
// Any failure rolls back and leaves the prior dataset intact.
func (s *RecordStore) ReplaceDataType(ctx context.Context, dataType string, records []domain.Record) (*domain.LoadSummary, error) {
	tx, err := s.db.conn.BeginTx(ctx, s.db.dialect.txOptions())
	if err != nil {
		return nil, fmt.Errorf("begin load transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	// Clear leftovers from a previous failed run.
	if _, err := tx.ExecContext(ctx, "DELETE FROM records_staging"); err != nil {
		return nil, fmt.Errorf("clear staging: %w", err)
	}

	// One batch timestamp for every record in this load.
	batch := time.Now().UTC().Truncate(time.Microsecond)

	insert := s.db.dialect.insertIgnore("records_staging", recordColumns,
		"?, ?, ?, ?, ?, ?, ?, ?")
	insert = s.db.dialect.rebind(insert)

	for _, rec := range records {
		var raw any // NULL unless the record carries an unprocessed payload
		if rec.RawData != nil {
			b, err := json.Marshal(rec.RawData)
			if err != nil {
				return nil, fmt.Errorf("marshal raw_data for %s: %w", rec.ID, err)
			}
			raw = string(b)
		}
		processed, err := json.Marshal(rec.ProcessedData)
		if err != nil {
			return nil, fmt.Errorf("marshal processed_data for %s: %w", rec.ID, err)
		}

		if _, err := tx.ExecContext(ctx, insert,
			rec.ID, rec.SourceFile, rec.DataType, raw, string(processed),
			rec.SortOrder, batch, batch,
		); err != nil {
			return nil, fmt.Errorf("stage record %s: %w", rec.ID, err)
		}
	}

	// Guard against a silent partial insert before touching live data.
	staged, err := countRows(ctx, tx, "SELECT COUNT(*) FROM records_staging")
	if err != nil {
		return nil, err
	}
	if staged != len(records) {
		return nil, &VerificationError{Stage: "staging", Want: len(records), Got: staged}
	}

	previous, err := countRows(ctx, tx,
		s.db.dialect.rebind("SELECT COUNT(*) FROM records WHERE data_type = ?"), dataType)
	if err != nil {
		return nil, err
	}

	// The swap: delete the live partition, copy staged rows in.
	if _, err := tx.ExecContext(ctx,
		s.db.dialect.rebind("DELETE FROM records WHERE data_type = ?"), dataType); err != nil {
		return nil, fmt.Errorf("delete live partition: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO records (%s) SELECT %s FROM records_staging", recordColumns, recordColumns)); err != nil {
		return nil, fmt.Errorf("copy staged rows: %w", err)
	}

	live, err := countRows(ctx, tx,
		s.db.dialect.rebind("SELECT COUNT(*) FROM records WHERE data_type = ?"), dataType)
	if err != nil {
		return nil, err
	}
	if live != len(records) {
		return nil, &VerificationError{Stage: "live", Want: len(records), Got: live}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM records_staging"); err != nil {
		return nil, fmt.Errorf("clear staging: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit load: %w", err)
	}

	log.Printf("storage: replaced %s: %d -> %d records", dataType, previous, live)
	return &domain.LoadSummary{
		DataType:      dataType,
		PreviousCount: previous,
		NewCount:      live,
	}, nil
}

func countRows(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// ── Query service ──────────────────────────────────────────

// QueryParams select a filtered, paginated slice of one partition.
type QueryParams struct {
	DataType string
	// Filters map processed_data.data keys to substring patterns,
	// matched case-insensitively. Keys must be in the allow-list.
	Filters map[string]string
	// Empresa is the dedicated canonical-company filter; same substring
	// semantics as Filters, usable alongside them.
	Empresa string
	// Limit <= 0 means unbounded at this layer; callers enforce a cap
	// at the boundary. Offset is always applied.
	Limit  int
	Offset int
}

// Query returns matching records ordered by creation time descending
// (most recent batch first), with intra-batch order stable. No match
// yields an empty slice, not an error.
func (s *RecordStore) Query(ctx context.Context, p QueryParams) ([]domain.Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE data_type = ?"
	args := []any{p.DataType}

	// Deterministic predicate order regardless of map iteration.
	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !s.allowed[key] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFilterField, key)
		}
		query += " AND " + s.db.dialect.jsonFilter(key)
		args = append(args, "%"+p.Filters[key]+"%")
	}
	if p.Empresa != "" {
		query += " AND " + s.db.dialect.jsonFilter("EMPRESA")
		args = append(args, "%"+p.Empresa+"%")
	}

	query += " ORDER BY created_at DESC, sort_order ASC"
	query += s.db.dialect.limitOffset(p.Limit, p.Offset)

	rows, err := s.db.conn.QueryContext(ctx, s.db.dialect.rebind(query), args...)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	records := make([]domain.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &QueryError{Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (domain.Record, error) {
	var rec domain.Record
	var raw sql.NullString
	var processed string
	if err := rows.Scan(
		&rec.ID, &rec.SourceFile, &rec.DataType, &raw, &processed,
		&rec.SortOrder, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return rec, err
	}
	if raw.Valid {
		if err := json.Unmarshal([]byte(raw.String), &rec.RawData); err != nil {
			return rec, fmt.Errorf("decode raw_data: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(processed), &rec.ProcessedData); err != nil {
		return rec, fmt.Errorf("decode processed_data: %w", err)
	}
	return rec, nil
}

// ── Count statistics ───────────────────────────────────────

// CountByDataType returns the live row count for one partition.
func (s *RecordStore) CountByDataType(ctx context.Context, dataType string) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx,
		s.db.dialect.rebind("SELECT COUNT(*) FROM records WHERE data_type = ?"), dataType).Scan(&n)
	if err != nil {
		return 0, &QueryError{Err: err}
	}
	return n, nil
}

// Stats summarizes one partition: counts and batch timestamp range.
func (s *RecordStore) Stats(ctx context.Context, dataType string) (*domain.TypeStats, error) {
	st := &domain.TypeStats{DataType: dataType}
	// MIN/MAX are expressions, so drivers lose the column's declared
	// type; scan loosely and coerce.
	var earliest, latest any
	err := s.db.conn.QueryRowContext(ctx, s.db.dialect.rebind(
		`SELECT COUNT(*), COUNT(DISTINCT source_file), MIN(created_at), MAX(created_at)
		 FROM records WHERE data_type = ?`), dataType).
		Scan(&st.RecordCount, &st.SourceFiles, &earliest, &latest)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	st.EarliestRecord = coerceTime(earliest)
	st.LatestRecord = coerceTime(latest)
	return st, nil
}

func coerceTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		return parseStoredTime(x)
	case []byte:
		return parseStoredTime(string(x))
	default:
		return time.Time{}
	}
}

func parseStoredTime(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		// The sqlite driver renders a bound time.Time in Go's default
		// String form; the fractional part is optional in both layouts.
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
