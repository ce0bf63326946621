package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
	"github.com/JonMunkholm/simsync/internal/sheet"
)

// maxJSONBody bounds request bodies other than uploads.
const maxJSONBody = 1 << 20

// limitBody caps request bodies at n bytes.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type labelRequest struct {
	Field  string `json:"field" validate:"required"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

type aliasRequest struct {
	OldKey     string `json:"oldKey" validate:"required"`
	TargetUID  string `json:"targetUid" validate:"required"`
	EntityType string `json:"entityType" validate:"required"`
	PlantKey   string `json:"plantKey"`
	Reason     string `json:"reason"`
}

type overrideRequest struct {
	WorkbookID     string `json:"workbookId" validate:"required"`
	SheetName      string `json:"sheetName"`
	ColumnIndex    int    `json:"columnIndex" validate:"gte=0"`
	OriginalHeader string `json:"originalHeader"`
	FieldID        string `json:"fieldId" validate:"required"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := registry.Status(q.Get("status"))
	if status != "" && status != registry.StatusActive && status != registry.StatusInactive {
		badRequest(w, r, "status must be active or inactive")
		return
	}
	writeJSON(w, http.StatusOK, s.service.Entities(core.EntityFilter{
		PlantKey:   q.Get("plant"),
		EntityType: schema.EntityType(q.Get("type")),
		Status:     status,
	}))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.entityStatus(w, r, s.service.Activate)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.entityStatus(w, r, s.service.Deactivate)
}

func (s *Server) entityStatus(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, uid, reason string) (registry.EntityRecord, error)) {
	var req reasonRequest
	if err := s.decodeOptionalJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	e, err := fn(r.Context(), chi.URLParam(r, "uid"), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleOverrideLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	e, err := s.service.OverrideLabel(r.Context(), chi.URLParam(r, "uid"), req.Field, req.Value, req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Aliases())
}

func (s *Server) handleAddAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	a, err := s.service.AddAlias(r.Context(), registry.AliasRule{
		OldKey:     req.OldKey,
		TargetUID:  req.TargetUID,
		EntityType: schema.EntityType(req.EntityType),
		PlantKey:   req.PlantKey,
		Reason:     req.Reason,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.MappingOverrides())
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	o, err := s.service.SetMappingOverride(r.Context(), registry.MappingOverride{
		WorkbookID:     req.WorkbookID,
		SheetName:      req.SheetName,
		ColumnIndex:    req.ColumnIndex,
		OriginalHeader: req.OriginalHeader,
		FieldID:        req.FieldID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	col, err := strconv.Atoi(q.Get("column"))
	if err != nil || col < 0 || q.Get("workbookId") == "" {
		badRequest(w, r, "workbookId and a non-negative column are required")
		return
	}
	if err := s.service.RemoveMappingOverride(r.Context(), registry.ColumnKey{
		WorkbookID:  q.Get("workbookId"),
		SheetName:   q.Get("sheet"),
		ColumnIndex: col,
	}); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.service.AuditLog(core.AuditFilter{
		UID:         q.Get("uid"),
		Action:      registry.AuditAction(q.Get("action")),
		ImportRunID: q.Get("importRunId"),
		Limit:       parseIntParam(r, "limit", 200),
	}))
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.ListImports(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []core.ImportRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleListFields lists the catalog without embedding vectors.
func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields := s.service.Catalog().Fields()
	for i := range fields {
		fields[i].Embedding = nil
	}
	writeJSON(w, http.StatusOK, fields)
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// decodeJSON reads a JSON body into v and validates it.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("request body: %w", sheet.ErrFileTooLarge)
		}
		return fmt.Errorf("invalid JSON body: %w: %w", err, errBadRequest)
	}
	return s.validateRequest(v)
}

// decodeOptionalJSON is decodeJSON for endpoints where the body may be empty.
func (s *Server) decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := s.decodeJSON(r, v)
	if errors.Is(err, errBadRequest) && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) validateRequest(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed %s: %w", fe.Field(), fe.Tag(), errBadRequest)
		}
		// Non-struct values have nothing to validate.
		var inv *validator.InvalidValidationError
		if errors.As(err, &inv) {
			return nil
		}
		return fmt.Errorf("%v: %w", err, errBadRequest)
	}
	return nil
}
