// Package table holds the raw tabular representation of a source dataset
// and the readers that produce it from workbook or CSV bytes.
package table

import (
	"strconv"
	"strings"
)

// Table is an ordered set of columns and rows as read from the source,
// before any normalization. Missing cells are nil.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// inferValue parses a raw cell into nil, float64, or string.
// Empty cells become nil so the transform's null policy can see them.
func inferValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// fromStringRows builds a Table from a header row plus data rows.
// Short rows are padded with nil; columns beyond the header are ignored.
func fromStringRows(headers []string, rows [][]string) *Table {
	t := &Table{Columns: headers}
	t.Rows = make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		data := make(map[string]any, len(headers))
		for j, h := range headers {
			if j < len(row) {
				data[h] = inferValue(row[j])
			} else {
				data[h] = nil
			}
		}
		t.Rows = append(t.Rows, data)
	}
	return t
}
