package table

import (
	"encoding/csv"
	"fmt"
	"io"
)

// ReadCSV parses comma-separated data into a Table. The first row is the
// header. Used by the drop-folder backfill path and in tests.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // source exports have ragged rows

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv input")
	}

	return fromStringRows(records[0], records[1:]), nil
}
