// Package ingest is the reconciliation engine: it maps spreadsheet columns
// onto the canonical field catalog, extracts candidate entities from rows,
// resolves them against the registry, and produces a diff and a plan that
// can later be committed.
//
// Nothing in this package performs I/O. Sheets arrive fully materialized,
// header embeddings are supplied by the caller, and the registry is read
// through an immutable value.
package ingest

import (
	"strings"

	"github.com/JonMunkholm/simsync/internal/match"
)

// SourceKind is the provenance of a batch.
type SourceKind string

const (
	SourceLocal     SourceKind = "Local"
	SourceMS365     SourceKind = "MS365"
	SourceSimBridge SourceKind = "SimBridge"
	SourceDemo      SourceKind = "Demo"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceLocal, SourceMS365, SourceSimBridge, SourceDemo:
		return true
	}
	return false
}

// Batch is one import: a workbook (or CSV file) split into sheets.
type Batch struct {
	WorkbookID string     `json:"workbookId"`
	FileName   string     `json:"fileName"`
	SourceKind SourceKind `json:"sourceKind"`
	PlantKey   string     `json:"plantKey"`

	// FileKind forces the file kind for every sheet. Empty means detect
	// per sheet from the matched columns.
	FileKind string `json:"fileKind,omitempty"`

	Sheets []Sheet `json:"sheets"`

	// HeaderEmbeddings holds precomputed vectors keyed by HeaderKey.
	HeaderEmbeddings map[string][]float32 `json:"-"`
}

// Sheet is one table of rows under a header row.
type Sheet struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
	Rows    []Row    `json:"rows"`
}

// Row is one data row. Index is the 1-based row number in the source so
// warnings point at something a person can find. Err is set by readers
// that could not decode the row.
type Row struct {
	Index int      `json:"index"`
	Cells []string `json:"cells"`
	Err   error    `json:"-"`
}

// Cell returns the cleaned cell at column i, or "" when the row is short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return CleanCell(r.Cells[i])
}

// IsEmpty reports whether every cell is blank.
func (r Row) IsEmpty() bool {
	for _, c := range r.Cells {
		if CleanCell(c) != "" {
			return false
		}
	}
	return true
}

// Column returns the first n non-empty values of column i.
func (s Sheet) Column(i, n int) []string {
	var out []string
	for _, r := range s.Rows {
		if r.Err != nil {
			continue
		}
		if v := r.Cell(i); v != "" {
			out = append(out, v)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// HeaderKey is the lookup key for a header's embedding.
func HeaderKey(header string) string {
	return match.Normalize(header)
}

// Headers returns every distinct, non-blank header key in the batch in
// first-seen order. Callers use it to fetch header embeddings.
func (b Batch) Headers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range b.Sheets {
		for _, h := range s.Headers {
			k := HeaderKey(h)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// RowCount is the number of data rows across all sheets.
func (b Batch) RowCount() int {
	n := 0
	for _, s := range b.Sheets {
		n += len(s.Rows)
	}
	return n
}

func sheetLabel(name string) string {
	if strings.TrimSpace(name) == "" {
		return "(unnamed)"
	}
	return name
}
