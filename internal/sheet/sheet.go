// Package sheet turns uploaded workbooks into the row-oriented
// ingest.Sheet contract. It knows about file formats only; matching and
// resolution happen in internal/ingest.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/simsync/internal/ingest"
)

var (
	// ErrUnsupportedFile is returned for file extensions no reader handles.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrFileTooLarge is returned when input exceeds Options.MaxBytes.
	ErrFileTooLarge = errors.New("file too large")
)

// DefaultMaxBytes bounds a single upload.
const DefaultMaxBytes = 100 << 20

// headerScanRows is how many leading rows are searched for the header row.
const headerScanRows = 10

// Options bounds what a reader accepts.
type Options struct {
	MaxBytes int64
}

func (o Options) maxBytes() int64 {
	if o.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return o.MaxBytes
}

// Supported reports whether Read can handle fileName.
func Supported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm", ".csv", ".tsv", ".txt":
		return true
	}
	return false
}

// Read picks a reader by file extension.
func Read(fileName string, r io.Reader, opts Options) ([]ingest.Sheet, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, opts)
	case ".csv", ".txt":
		s, err := ReadCSV(r, sheetName(fileName), opts)
		if err != nil {
			return nil, err
		}
		return []ingest.Sheet{s}, nil
	case ".tsv":
		s, err := readDelimited(r, sheetName(fileName), '\t', opts)
		if err != nil {
			return nil, err
		}
		return []ingest.Sheet{s}, nil
	default:
		return nil, fmt.Errorf("read %s: %w", fileName, ErrUnsupportedFile)
	}
}

func sheetName(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// buildSheet finds the header row among raw rows and turns everything
// below it into data rows. Row indexes are 1-based sheet row numbers.
// Title rows above the header (a single cell such as "Status report")
// are skipped.
func buildSheet(name string, raw [][]string, rowErrs map[int]error) ingest.Sheet {
	s := ingest.Sheet{Name: name}

	h := headerRow(raw)
	if h < 0 {
		return s
	}
	s.Headers = trimCells(raw[h])

	for i := h + 1; i < len(raw); i++ {
		row := ingest.Row{Index: i + 1, Cells: trimCells(raw[i]), Err: rowErrs[i]}
		if row.Err == nil && row.IsEmpty() {
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

// headerRow returns the index of the first of the leading rows with at
// least two non-empty cells, falling back to the first non-empty row, or
// -1 when there is none.
func headerRow(raw [][]string) int {
	first := -1
	for i := 0; i < len(raw) && i < headerScanRows; i++ {
		n := nonEmpty(raw[i])
		if n == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		if n >= 2 {
			return i
		}
	}
	if first >= 0 {
		return first
	}
	for i := headerScanRows; i < len(raw); i++ {
		if nonEmpty(raw[i]) > 0 {
			return i
		}
	}
	return -1
}

func nonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func trimCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	// Drop trailing empty cells so ragged rows compare equal.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
