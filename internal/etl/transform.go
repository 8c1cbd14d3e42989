package etl

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"calidad/internal/domain"
	"calidad/internal/table"
)

// TransformError is a structural schema violation in the source table:
// a required column is absent or a date column cannot be parsed.
type TransformError struct {
	Column string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform: column %q: %v", e.Column, e.Err)
	}
	return fmt.Sprintf("transform: column %q missing", e.Column)
}

func (e *TransformError) Unwrap() error { return e.Err }

// nullSpellings are the string forms that count as "no value" in the
// identifier-ish text columns.
var nullSpellings = map[string]bool{
	"": true, "None": true, "nan": true, "NaN": true, "NULL": true, "null": true,
}

// Transform normalizes a raw table into records ready for loading.
// It returns the records in source row order (minus dropped rows) and the
// number of rows excluded by the drop rule.
//
// Every column the rules reference must be present in the table; an
// absent one signals a structural schema change and fails the whole
// transform, like an unparseable date does.
//
// Record ids are a fresh random draw per row: unique within the run, not
// reproducible across runs.
func Transform(tbl *table.Table, rules *Rules) ([]domain.Record, int, error) {
	for _, col := range requiredColumns(rules) {
		if !hasColumn(tbl, col) {
			return nil, 0, &TransformError{Column: col}
		}
	}

	// Work on copies: Transform must not mutate its input.
	rows := make([]map[string]any, len(tbl.Rows))
	for i, src := range tbl.Rows {
		row := make(map[string]any, len(src))
		for k, v := range src {
			row[k] = v
		}
		rows[i] = row
	}

	// 1. Date columns → calendar timestamps. Whole-transform failure on
	// any unparseable value.
	for _, col := range rules.DateColumns {
		for _, row := range rows {
			v := row[col]
			if v == nil {
				continue
			}
			ts, err := parseDate(v)
			if err != nil {
				return nil, 0, &TransformError{Column: col, Err: err}
			}
			row[col] = ts
		}
	}

	// 2. Missing numeric measurements mean zero, not unknown.
	for _, col := range numericColumns(tbl.Columns, rows, rules) {
		for _, row := range rows {
			if row[col] == nil {
				row[col] = float64(0)
			}
		}
	}
	for _, col := range rules.ZeroFillColumns {
		for _, row := range rows {
			if row[col] == nil {
				row[col] = float64(0)
			}
		}
	}

	// 3. Known bad literals.
	for col, fixes := range rules.Replacements {
		for _, row := range rows {
			if v := row[col]; v != nil {
				if fixed, ok := fixes[cellString(v)]; ok {
					row[col] = fixed
				}
			}
		}
	}

	// 4. Categorical sentinel + trim.
	for _, col := range rules.CategoricalColumns {
		for _, row := range rows {
			switch v := row[col].(type) {
			case nil:
				row[col] = UnspecifiedLabel
			case string:
				row[col] = strings.TrimSpace(v)
			}
		}
	}

	// 5. Identifier columns: every null spelling collapses to "-".
	for _, col := range rules.DashColumns {
		for _, row := range rows {
			s := strings.TrimSpace(cellString(row[col]))
			if nullSpellings[s] {
				s = "-"
			}
			row[col] = s
		}
	}

	// 6. Producer → parent-company rollup.
	if rules.RemapColumn != "" && rules.RemapInto != "" {
		for _, row := range rows {
			src := cellString(row[rules.RemapColumn])
			if canonical, ok := rules.Remap[src]; ok {
				row[rules.RemapInto] = canonical
			} else if row[rules.RemapColumn] != nil {
				row[rules.RemapInto] = row[rules.RemapColumn]
			}
		}
	}

	// Normalized output column names: trimmed headers plus the rollup
	// target when it is a new column.
	outCols := make([]string, 0, len(tbl.Columns)+1)
	trimmed := make(map[string]string, len(tbl.Columns))
	for _, col := range tbl.Columns {
		trimmed[col] = strings.TrimSpace(col)
		outCols = append(outCols, col)
	}
	if rules.RemapInto != "" && !hasColumn(tbl, rules.RemapInto) {
		outCols = append(outCols, rules.RemapInto)
		trimmed[rules.RemapInto] = strings.TrimSpace(rules.RemapInto)
	}

	// 7/8. Drop unidentifiable rows, package the rest.
	processedAt := rules.now()
	records := make([]domain.Record, 0, len(rows))
	dropped := 0
	for i, row := range rows {
		if rules.KeyColumn != "" && cellString(row[rules.KeyColumn]) == rules.UnknownMarker {
			dropped++
			continue
		}

		id := rules.IDPrefix + "_" + shortID()
		data := make(map[string]any, len(outCols))
		for _, col := range outCols {
			data[trimmed[col]] = exportValue(row[col])
		}

		records = append(records, domain.Record{
			ID:         id,
			SourceFile: rules.SourceFile,
			DataType:   rules.DataType,
			SortOrder:  len(records) + 1,
			ProcessedData: domain.ProcessedData{
				RecordID:    id,
				RowIndex:    i,
				ProcessedAt: processedAt,
				Data:        data,
			},
		})
	}

	return records, dropped, nil
}

// requiredColumns lists every source column the rules touch. The rollup
// target is excluded: it may be a new column.
func requiredColumns(rules *Rules) []string {
	var cols []string
	cols = append(cols, rules.DateColumns...)
	cols = append(cols, rules.ZeroFillColumns...)
	cols = append(cols, rules.CategoricalColumns...)
	cols = append(cols, rules.DashColumns...)
	fixed := make([]string, 0, len(rules.Replacements))
	for col := range rules.Replacements {
		fixed = append(fixed, col)
	}
	sort.Strings(fixed)
	cols = append(cols, fixed...)
	if rules.RemapColumn != "" {
		cols = append(cols, rules.RemapColumn)
	}
	if rules.KeyColumn != "" {
		cols = append(cols, rules.KeyColumn)
	}
	return cols
}

// hasColumn reports whether the table has the named header.
func hasColumn(tbl *table.Table, name string) bool {
	for _, c := range tbl.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// numericColumns returns the columns whose every non-nil value is a
// number, excluding date and explicit zero-fill columns.
func numericColumns(cols []string, rows []map[string]any, rules *Rules) []string {
	skip := make(map[string]bool)
	for _, c := range rules.DateColumns {
		skip[c] = true
	}
	for _, c := range rules.ZeroFillColumns {
		skip[c] = true
	}

	var out []string
	for _, col := range cols {
		if skip[col] {
			continue
		}
		seen := false
		numeric := true
		for _, row := range rows {
			switch row[col].(type) {
			case nil:
			case float64:
				seen = true
			default:
				numeric = false
			}
			if !numeric {
				break
			}
		}
		if seen && numeric {
			out = append(out, col)
		}
	}
	return out
}

// cellString renders a cell for comparison: trimmed, with integral floats
// printed without a decimal part.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// dateLayouts are the calendar formats seen across workbook exports.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01-02-06",
	"02/01/2006",
	"1/2/06 15:04",
	"1/2/06",
}

// excelEpoch is day zero of the 1900 date system.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

func parseDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case float64:
		// Unstyled workbook cells surface date serials as numbers.
		days := int(x)
		frac := x - float64(days)
		return excelEpoch.AddDate(0, 0, days).
			Add(time.Duration(frac * 24 * float64(time.Hour))), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	default:
		return time.Time{}, fmt.Errorf("unparseable date value %v", v)
	}
}

// exportValue maps a normalized cell into its stored JSON form. Missing
// values stay as explicit nulls; timestamps become RFC 3339 strings.
func exportValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}

// shortID returns 8 hex characters of a fresh random UUID.
func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}
