package table

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX parses one sheet of an Excel workbook into a Table. The first
// row is the header. An empty sheet name selects the workbook's first
// sheet.
func ReadXLSX(r io.Reader, sheet string) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	return fromStringRows(rows[0], rows[1:]), nil
}
