package sheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/simsync/internal/ingest"
)

// ReadXLSX reads every visible worksheet of an .xlsx workbook. Cell values
// are the formatted strings Excel would display.
func ReadXLSX(r io.Reader, opts Options) ([]ingest.Sheet, error) {
	lr := newLimitReader(r, opts.maxBytes())
	f, err := excelize.OpenReader(lr)
	if err != nil {
		if lr.exceeded() {
			return nil, fmt.Errorf("read workbook: %w", ErrFileTooLarge)
		}
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var sheets []ingest.Sheet
	for _, name := range f.GetSheetList() {
		visible, err := f.GetSheetVisible(name)
		if err == nil && !visible {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		sheets = append(sheets, buildSheet(name, rows, nil))
	}
	return sheets, nil
}
