package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WarningKind classifies a non-fatal ingestion problem.
type WarningKind string

const (
	WarnRowSkipped           WarningKind = "ROW_SKIPPED"
	WarnSheetSkipped         WarningKind = "SHEET_SKIPPED"
	WarnDuplicateKey         WarningKind = "DUPLICATE_KEY"
	WarnEmbeddingUnavailable WarningKind = "EMBEDDING_UNAVAILABLE"
)

// IngestionWarning is surfaced to the caller even when the run succeeds.
type IngestionWarning struct {
	ID        string      `json:"id"`
	Kind      WarningKind `json:"kind"`
	FileName  string      `json:"fileName"`
	SheetName string      `json:"sheetName,omitempty"`
	RowIndex  int         `json:"rowIndex,omitempty"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"createdAt"`
}

var warningNamespace = uuid.MustParse("6f1f1f0e-5b8e-4c55-9a55-3f1f8c0d2a10")

// NewWarning builds a warning whose ID is derived from its content, so the
// same problem in the same input always gets the same ID.
func NewWarning(kind WarningKind, fileName, sheet string, row int, at time.Time, format string, args ...any) IngestionWarning {
	msg := fmt.Sprintf(format, args...)
	id := uuid.NewSHA1(warningNamespace, []byte(fmt.Sprintf("%s|%s|%s|%d|%s", kind, fileName, sheet, row, msg)))
	return IngestionWarning{
		ID:        id.String(),
		Kind:      kind,
		FileName:  fileName,
		SheetName: sheet,
		RowIndex:  row,
		Message:   msg,
		CreatedAt: at,
	}
}
