package web

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/sheet"
)

// multipartMemory is how much of an upload is held in memory before the
// rest spills to a temp file.
const multipartMemory = 32 << 20

// handleIngest accepts either a multipart upload (file plus form fields)
// or a JSON ingest.Batch from an integration that already has rows.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Ingest.MaxFileSize
	// Allow some room for multipart framing and form fields.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	var (
		batch ingest.Batch
		err   error
	)
	if isJSON(r) {
		err = s.decodeJSON(r, &batch)
	} else {
		batch, err = s.readUpload(r, maxSize)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Ingest.Timeout)
	defer cancel()

	res, err := s.service.Ingest(ctx, batch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readUpload turns a multipart form into a batch.
func (s *Server) readUpload(r *http.Request, maxSize int64) (ingest.Batch, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return ingest.Batch{}, fmt.Errorf("upload: %w", sheet.ErrFileTooLarge)
		}
		return ingest.Batch{}, fmt.Errorf("invalid multipart form: %w", errBadRequest)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return ingest.Batch{}, fmt.Errorf("no file provided: %w", errBadRequest)
	}
	defer file.Close()

	if header.Size > maxSize {
		return ingest.Batch{}, fmt.Errorf("upload %s: %w", header.Filename, sheet.ErrFileTooLarge)
	}

	sheets, err := sheet.Read(header.Filename, file, sheet.Options{MaxBytes: maxSize})
	if err != nil {
		return ingest.Batch{}, err
	}

	workbookID := strings.TrimSpace(r.FormValue("workbookId"))
	if workbookID == "" {
		workbookID = header.Filename
	}
	return ingest.Batch{
		WorkbookID: workbookID,
		FileName:   header.Filename,
		SourceKind: ingest.SourceKind(strings.TrimSpace(r.FormValue("sourceKind"))),
		PlantKey:   strings.TrimSpace(r.FormValue("plantKey")),
		FileKind:   strings.TrimSpace(r.FormValue("fileKind")),
		Sheets:     sheets,
	}, nil
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.PendingPlans())
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Plan(chi.URLParam(r, "planID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConfirmPlan(w http.ResponseWriter, r *http.Request) {
	// Confirm re-plans the batch, so it gets the same bound as an upload.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Ingest.Timeout)
	defer cancel()

	res, err := s.service.Confirm(ctx, chi.URLParam(r, "planID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(r.Context(), chi.URLParam(r, "planID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
