package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// dialect absorbs the differences between the supported SQL drivers:
// placeholder style, JSON-path extraction, case-insensitive matching,
// insert-ignore form, and transaction isolation.
type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
	dialectMySQL    dialect = "mysql"
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "postgres":
		return dialectPostgres, nil
	case "sqlite":
		return dialectSQLite, nil
	case "mysql":
		return dialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported driver: %q", driver)
	}
}

// rebind rewrites ? placeholders into the driver's native style.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// jsonFilter returns a predicate matching the given key inside
// processed_data.data as a case-insensitive substring. Only the key name
// is interpolated — it must already have passed the allow-list — and the
// pattern is always a bound parameter.
func (d dialect) jsonFilter(key string) string {
	switch d {
	case dialectPostgres:
		return fmt.Sprintf(`processed_data->'data'->>'%s' ILIKE ?`, key)
	case dialectMySQL:
		return fmt.Sprintf(`LOWER(JSON_UNQUOTE(JSON_EXTRACT(processed_data, '$.data."%s"'))) LIKE LOWER(?)`, key)
	default: // sqlite
		return fmt.Sprintf(`LOWER(json_extract(processed_data, '$.data."%s"')) LIKE LOWER(?)`, key)
	}
}

// insertIgnore builds an INSERT that silently skips conflicting ids. The
// loader relies on this: a skipped row shows up as a count mismatch in the
// verification step instead of an opaque driver error.
func (d dialect) insertIgnore(table, columns, placeholders string) string {
	switch d {
	case dialectPostgres:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING", table, columns, placeholders)
	case dialectMySQL:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, columns, placeholders)
	default: // sqlite
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, columns, placeholders)
	}
}

// txOptions returns the isolation for the swap transaction. Postgres and
// MySQL run it serializable so concurrent readers see either the fully-old
// or fully-new partition. SQLite is single-writer with snapshot reads
// under WAL, so the default suffices (and the driver accepts no other).
func (d dialect) txOptions() *sql.TxOptions {
	switch d {
	case dialectPostgres, dialectMySQL:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// limitOffset renders pagination. Offset is always applied; a non-positive
// limit means unbounded, which each engine spells differently.
func (d dialect) limitOffset(limit, offset int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	switch d {
	case dialectPostgres:
		return fmt.Sprintf(" OFFSET %d", offset)
	case dialectMySQL:
		// MySQL has no offset-without-limit form.
		return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", offset)
	default: // sqlite
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
}
