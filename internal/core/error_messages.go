package core

// error_messages.go maps technical errors to user-facing messages with
// support codes. The web layer shows Message and Action; support staff look
// the Code up here.
//
// # Ingestion (ING001-ING099)
//
//	ING001 - Registry changed: the registry moved on since the preview
//	         Action: Run the import again to get a fresh preview
//	ING002 - Preview not found: the plan id is unknown or expired
//	         Action: Run the import again
//	ING003 - Busy: another change is being applied
//	         Action: Wait a moment and try again
//	ING004 - Empty workbook: no sheets with data
//	         Action: Check that the workbook contains at least one sheet
//	ING005 - Unsupported file: not an .xlsx or .csv file
//	         Action: Export the sheet as .xlsx or .csv
//	ING006 - File too large
//	         Action: Split the workbook into smaller files
//	ING007 - Unknown field: a mapping names a field that does not exist
//	         Action: Pick one of the fields listed by /api/fields
//	ING008 - Invalid source: source kind is not recognised
//	         Action: Use Local, MS365, SimBridge or Demo
//
// # Registry (REG001-REG099)
//
//	REG001 - Entity not found
//	REG002 - Key conflict: another active entity already uses the key
//	REG003 - Alias target mismatch: alias target is missing or of another type/plant
//
// # Snapshots (SNAP001-SNAP099)
//
//	SNAP001 - Unsupported snapshot version
//	SNAP002 - Invalid snapshot: the document failed validation
//
// # Requests (REQ001-REQ099)
//
//	REQ001 - Request cancelled
//	REQ002 - Request timed out
//	REQ003 - Rate limited
//
// # Default (ERR000)
//
// Fallback when nothing matches. Check the server log for the original error.
//
// Sentinel errors are matched with errors.Is first; the remaining patterns
// are matched case-insensitively against the error text, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/registry"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages are checked in order with errors.Is.
var sentinelMessages = []sentinelMessage{
	{ingest.ErrStaleRegistry, UserMessage{
		Message: "The registry changed since this preview was computed",
		Action:  "Run the import again to get a fresh preview",
		Code:    "ING001",
	}},
	{ErrPlanNotFound, UserMessage{
		Message: "Preview not found or expired",
		Action:  "Run the import again",
		Code:    "ING002",
	}},
	{ErrCommitBusy, UserMessage{
		Message: "Another change is being applied",
		Action:  "Please wait a moment and try again",
		Code:    "ING003",
	}},
	{ingest.ErrEmptyBatch, UserMessage{
		Message: "The workbook has no sheets with data",
		Action:  "Check that the workbook contains at least one sheet",
		Code:    "ING004",
	}},
	{ErrUnknownField, UserMessage{
		Message: "Unknown canonical field",
		Action:  "Pick one of the fields listed by /api/fields",
		Code:    "ING007",
	}},
	{ErrInvalidSource, UserMessage{
		Message: "Unknown source kind",
		Action:  "Use Local, MS365, SimBridge or Demo",
		Code:    "ING008",
	}},
	{registry.ErrEntityNotFound, UserMessage{
		Message: "Entity not found",
		Action:  "Refresh the entity list and try again",
		Code:    "REG001",
	}},
	{registry.ErrKeyConflict, UserMessage{
		Message: "Another active entity already uses this key",
		Action:  "Deactivate the other entity first",
		Code:    "REG002",
	}},
	{registry.ErrAliasTarget, UserMessage{
		Message: "Alias target does not exist or belongs to another type or plant",
		Action:  "Choose an entity of the same type and plant",
		Code:    "REG003",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "REQ002",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch errors that cross package boundaries as text, such as
// reader errors from internal/sheet. More specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "unsupported file",
		msg: UserMessage{
			Message: "Unsupported file type",
			Action:  "Export the sheet as .xlsx or .csv",
			Code:    "ING005",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size",
			Action:  "Split the workbook into smaller files",
			Code:    "ING006",
		},
	},
	{
		pattern: "unsupported version",
		msg: UserMessage{
			Message: "Snapshot was written by an unsupported version",
			Action:  "Export the snapshot again from a current server",
			Code:    "SNAP001",
		},
	},
	{
		pattern: "invalid snapshot",
		msg: UserMessage{
			Message: "Snapshot failed validation",
			Action:  "Check that the file is an unmodified snapshot export",
			Code:    "SNAP002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "REQ003",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("confirm: %w", ingest.ErrStaleRegistry))
//	// msg.Code == "ING001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	// Snapshot version problems share the ErrInvalidSnapshot sentinel with
	// every other snapshot failure, so text decides between SNAP001/002.
	if !errors.Is(err, registry.ErrInvalidSnapshot) {
		for _, sm := range sentinelMessages {
			if errors.Is(err, sm.err) {
				return sm.msg
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
