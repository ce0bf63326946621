package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/registry"
)

// ImportRecord is one row of import history, written together with the
// snapshot when a plan is committed. Diff is the committed diff with the
// uids assigned at commit.
type ImportRecord struct {
	ImportRunID string             `json:"importRunId"`
	PlanID      string             `json:"planId,omitempty"`
	SourceFile  string             `json:"sourceFile"`
	SourceType  ingest.SourceKind  `json:"sourceType"`
	PlantKey    string             `json:"plantKey"`
	Version     int64              `json:"version"`
	CommittedAt time.Time          `json:"committedAt"`
	Summary     ingest.DiffSummary `json:"summary"`
	Warnings    int                `json:"warnings"`
	Diff        ingest.DiffResult  `json:"diff"`
}

// Store persists the registry. Commit must write the snapshot and the
// optional import record atomically: after a failed Commit the previously
// saved state is still the one Load returns.
type Store interface {
	// Load returns the last committed snapshot, or nil when nothing was saved.
	Load(ctx context.Context) (*registry.Snapshot, error)

	// Commit replaces the saved snapshot. rec is nil for manual corrections.
	// A snapshot whose version is not greater than the saved one is rejected
	// with an error wrapping ingest.ErrStaleRegistry and nothing is written.
	Commit(ctx context.Context, snap registry.Snapshot, rec *ImportRecord) error

	// Reset deletes all import history and saves snap in place of the
	// current snapshot, atomically and without a version check.
	Reset(ctx context.Context, snap registry.Snapshot) error

	// ListImports returns import history, newest first. limit <= 0 means all.
	ListImports(ctx context.Context, limit int) ([]ImportRecord, error)
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
