package web

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// wipeConfirmation must be sent to /api/wipe to clear the registry.
const wipeConfirmation = "WIPE"

type wipeRequest struct {
	Confirm string `json:"confirm" validate:"required"`
}

// handleExportSnapshot downloads the registry as a JSON document.
func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	// Buffer so a failure can still be reported as an error response.
	var buf bytes.Buffer
	if err := s.service.ExportSnapshot(r.Context(), &buf); err != nil {
		respondError(w, r, err)
		return
	}

	name := fmt.Sprintf("simsync-registry-%s.json", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleImportSnapshot replaces the registry with an uploaded snapshot.
func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxFileSize)

	reg, err := s.service.ImportSnapshot(r.Context(), r.Body)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registryVersion": reg.Version(),
		"entities":        reg.Len(),
	})
}

// handleWipe clears the registry and import history. The body must be
// {"confirm": "WIPE"}.
func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	var req wipeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Confirm != wipeConfirmation {
		badRequest(w, r, `confirm must be "WIPE"`)
		return
	}
	if err := s.service.Wipe(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
