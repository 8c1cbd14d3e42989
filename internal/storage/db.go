// Package storage persists normalized records and serves filtered reads.
// It runs against Postgres in production and against SQLite (or MySQL)
// through the same database/sql surface.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB wraps the SQL connection plus the dialect for the active driver.
type DB struct {
	conn    *sql.DB
	dialect dialect
}

// Open connects with the given driver ("postgres", "sqlite" or "mysql")
// and applies the schema migrations.
func Open(driver, dsn string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d == dialectSQLite {
		// SQLite only supports one writer — limit to a single connection
		// to prevent SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn, dialect: d}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	jsonType := "TEXT"
	tsType := "DATETIME"
	switch db.dialect {
	case dialectPostgres:
		jsonType = "JSONB"
		tsType = "TIMESTAMP WITH TIME ZONE"
	case dialectMySQL:
		jsonType = "JSON"
		tsType = "DATETIME(6)"
	}

	recordShape := fmt.Sprintf(`(
		id VARCHAR(255) PRIMARY KEY,
		source_file VARCHAR(500) NOT NULL,
		data_type VARCHAR(100) NOT NULL,
		raw_data %s,
		processed_data %s NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at %s NOT NULL,
		updated_at %s NOT NULL
	)`, jsonType, jsonType, tsType, tsType)

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS records ` + recordShape,
		// Staging area: identical shape, ephemeral per load.
		`CREATE TABLE IF NOT EXISTS records_staging ` + recordShape,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id VARCHAR(255) PRIMARY KEY,
			data_type VARCHAR(100) NOT NULL,
			source_file VARCHAR(500) NOT NULL DEFAULT '',
			started_at %s NOT NULL,
			finished_at %s NOT NULL,
			status VARCHAR(20) NOT NULL,
			rows_read INTEGER NOT NULL DEFAULT 0,
			rows_loaded INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`, tsType, tsType),
	}
	if db.dialect != dialectMySQL { // MySQL < 8.0.13 chokes on IF NOT EXISTS indexes
		migrations = append(migrations,
			`CREATE INDEX IF NOT EXISTS idx_records_source_file ON records(source_file)`,
			`CREATE INDEX IF NOT EXISTS idx_records_data_type ON records(data_type)`,
			`CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_data_type ON pipeline_runs(data_type)`,
		)
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %s: %w", m[:40], err)
		}
	}
	return nil
}
