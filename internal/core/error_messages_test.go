package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/registry"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "stale registry", err: fmt.Errorf("confirm p1: %w", ingest.ErrStaleRegistry), wantCode: "ING001"},
		{name: "plan not found", err: fmt.Errorf("plan abc: %w", ErrPlanNotFound), wantCode: "ING002"},
		{name: "commit busy", err: ErrCommitBusy, wantCode: "ING003"},
		{name: "empty batch", err: ingest.ErrEmptyBatch, wantCode: "ING004"},
		{name: "unsupported file by text", err: errors.New("read foo.pdf: unsupported file type"), wantCode: "ING005"},
		{name: "file too large by text", err: errors.New("File Too Large: 300MB"), wantCode: "ING006"},
		{name: "unknown field", err: fmt.Errorf("override: %w", ErrUnknownField), wantCode: "ING007"},
		{name: "entity not found", err: fmt.Errorf("activate u1: %w", registry.ErrEntityNotFound), wantCode: "REG001"},
		{name: "key conflict", err: registry.ErrKeyConflict, wantCode: "REG002"},
		{name: "alias target", err: registry.ErrAliasTarget, wantCode: "REG003"},
		{
			name:     "snapshot version",
			err:      &registry.SnapshotError{Field: "schemaVersion", Reason: "unsupported version 9 (want 1)"},
			wantCode: "SNAP001",
		},
		{
			name:     "snapshot validation",
			err:      fmt.Errorf("import: %w", &registry.SnapshotError{Field: "entities", Reason: "required"}),
			wantCode: "SNAP002",
		},
		{name: "cancelled", err: fmt.Errorf("plan: %w", context.Canceled), wantCode: "REQ001"},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: "REQ002"},
		{name: "rate limit", err: errors.New("rate limit exceeded"), wantCode: "REQ003"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrCommitBusy)
	want := "Another change is being applied (Code: ING003). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "known error is user facing", err: ErrPlanNotFound, want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("confirm: %w", ingest.ErrStaleRegistry)
		userErr := NewUserError(techErr)

		if userErr.Error() != "The registry changed since this preview was computed" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ingest.ErrStaleRegistry) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
