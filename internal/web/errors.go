package web

// errors.go provides unified error response handling for the web layer.
//
// Handlers call respondError with the error they got from the service. The
// error is mapped through core.MapError to a user-facing message and a
// support code, the technical error is logged with the request id, and the
// HTTP status is derived from the error kind.

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/logging"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/sheet"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errBadRequest  = errors.New("bad request")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// respondError logs err and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	if errors.Is(err, core.ErrCommitBusy) {
		w.Header().Set("Retry-After", "5")
	}
	writeUserMessage(w, r, status, msg)
}

// badRequest reports a malformed request. detail is shown to the client.
func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	logging.FromContext(r.Context()).Warn("bad request", "path", r.URL.Path, "detail", detail)
	writeUserMessage(w, r, http.StatusBadRequest, core.UserMessage{
		Message: detail,
		Action:  "Check the request parameters and try again.",
		Code:    "REQ000",
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeUserMessage(w, r, status, core.MapError(err))
}

func writeUserMessage(w http.ResponseWriter, r *http.Request, status int, msg core.UserMessage) {
	writeJSON(w, status, ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ingest.ErrEmptyBatch),
		errors.Is(err, core.ErrInvalidSource),
		errors.Is(err, core.ErrUnknownField),
		errors.Is(err, sheet.ErrUnsupportedFile),
		errors.Is(err, registry.ErrInvalidSnapshot),
		errors.Is(err, registry.ErrAliasTarget):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPlanNotFound),
		errors.Is(err, registry.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrStaleRegistry),
		errors.Is(err, registry.ErrKeyConflict):
		return http.StatusConflict
	case errors.Is(err, sheet.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrCommitBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; nginx convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}
