package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/logging"
	"github.com/JonMunkholm/simsync/internal/registry"
)

// IngestState is where an ingestion run ended up.
type IngestState string

const (
	StateIngesting IngestState = "INGESTING"
	StatePreview   IngestState = "PREVIEW"
	StateConfirmed IngestState = "CONFIRMED"
)

// IngestionResult is returned by Ingest, Plan and Confirm.
type IngestionResult struct {
	PlanID    string                    `json:"planId,omitempty"`
	State     IngestState               `json:"state"`
	ExpiresAt *time.Time                `json:"expiresAt,omitempty"`
	Diff      ingest.DiffResult         `json:"diff"`
	Warnings  []ingest.IngestionWarning `json:"warnings"`
	Counts    ingest.Counts             `json:"counts"`
	Matches   []ingest.SheetPlan        `json:"matches"`
	Version   int64                     `json:"registryVersion"`
}

func resultFromPlan(p *ingest.Plan, state IngestState) *IngestionResult {
	return &IngestionResult{
		State:    state,
		Diff:     p.Diff,
		Warnings: p.Warnings,
		Counts:   p.Counts,
		Matches:  p.Sheets,
		Version:  p.BaseVersion,
	}
}

// Ingest plans a batch against the current registry. Against a non-empty
// registry the plan is stored for confirmation and nothing is written
// (PREVIEW). The very first import into an empty registry has nothing to
// review and is committed at once (CONFIRMED).
func (s *Service) Ingest(ctx context.Context, b ingest.Batch) (*IngestionResult, error) {
	if b.SourceKind == "" {
		b.SourceKind = ingest.SourceLocal
	}
	if !b.SourceKind.Valid() {
		return nil, fmt.Errorf("ingest %s: %q: %w", b.FileName, b.SourceKind, ErrInvalidSource)
	}

	run := ingest.RunInfo{ImportRunID: s.newID(), At: s.now()}
	log := logging.WithFields(ctx, "import_run_id", run.ImportRunID, "file", b.FileName)
	log.Info("ingest started",
		"state", StateIngesting,
		"sheets", len(b.Sheets),
		"rows", b.RowCount(),
		"source", b.SourceKind,
	)

	embedWarning := s.embedHeaders(ctx, &b, run)

	start := time.Now()
	reg := s.Registry()
	plan, err := s.planner.Plan(ctx, reg, b, run)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", b.FileName, err)
	}
	if embedWarning != nil {
		plan.AddWarning(*embedWarning)
	}

	if reg.IsEmpty() {
		res, err := s.commitPlan(ctx, "", plan)
		if err != nil {
			return nil, err
		}
		s.metrics.observePlan(string(StateConfirmed), time.Since(start))
		return res, nil
	}

	id := s.newID()
	expires := run.At.Add(s.planTTL)
	s.plansMu.Lock()
	s.plans[id] = &pendingPlan{id: id, plan: plan, created: run.At, expires: expires}
	n := len(s.plans)
	s.plansMu.Unlock()
	s.metrics.setPending(n)
	s.metrics.observePlan(string(StatePreview), time.Since(start))

	log.Info("plan ready for review",
		"plan_id", id,
		"base_version", plan.BaseVersion,
		"created", plan.Diff.Summary.Created,
		"updated", plan.Diff.Summary.Updated,
		"deleted", plan.Diff.Summary.Deleted,
		"renamed", plan.Diff.Summary.Renamed,
		"ambiguous", plan.Diff.Summary.Ambiguous,
		"warnings", plan.Counts.Warnings,
	)

	res := resultFromPlan(plan, StatePreview)
	res.PlanID = id
	res.ExpiresAt = &expires
	return res, nil
}

// embedHeaders attaches header embeddings to the batch when an embedder is
// configured and the catalog carries field vectors. A provider failure is
// reported as a warning and matching continues lexically.
func (s *Service) embedHeaders(ctx context.Context, b *ingest.Batch, run ingest.RunInfo) *ingest.IngestionWarning {
	if s.embedder == nil || !s.Catalog().HasEmbeddings() || b.HeaderEmbeddings != nil {
		return nil
	}
	headers := b.Headers()
	if len(headers) == 0 {
		return nil
	}

	vecs, err := s.embedder.Embed(ctx, headers)
	if err == nil && len(vecs) != len(headers) {
		err = fmt.Errorf("got %d vectors for %d headers", len(vecs), len(headers))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.metrics.embeddingFailed()
		logging.FromContext(ctx).Warn("header embeddings unavailable", "error", err)
		w := ingest.NewWarning(ingest.WarnEmbeddingUnavailable, b.FileName, "", 0, run.At,
			"embedding provider unavailable, matched headers lexically: %v", err)
		return &w
	}

	b.HeaderEmbeddings = make(map[string][]float32, len(headers))
	for i, h := range headers {
		b.HeaderEmbeddings[h] = vecs[i]
	}
	return nil
}

// Plan returns a pending plan.
func (s *Service) Plan(planID string) (*IngestionResult, error) {
	p, ok := s.pending(planID)
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrPlanNotFound)
	}
	res := resultFromPlan(p.plan, StatePreview)
	res.PlanID = p.id
	expires := p.expires
	res.ExpiresAt = &expires
	return res, nil
}

// PendingPlan summarizes a plan waiting for confirmation.
type PendingPlan struct {
	PlanID      string             `json:"planId"`
	SourceFile  string             `json:"sourceFile"`
	PlantKey    string             `json:"plantKey"`
	BaseVersion int64              `json:"baseVersion"`
	CreatedAt   time.Time          `json:"createdAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	Summary     ingest.DiffSummary `json:"summary"`
}

// PendingPlans lists unexpired plans, oldest first.
func (s *Service) PendingPlans() []PendingPlan {
	now := s.now()
	s.plansMu.Lock()
	defer s.plansMu.Unlock()

	out := make([]PendingPlan, 0, len(s.plans))
	for _, p := range s.plans {
		if !now.Before(p.expires) {
			continue
		}
		out = append(out, PendingPlan{
			PlanID:      p.id,
			SourceFile:  p.plan.Diff.SourceFile,
			PlantKey:    p.plan.Diff.PlantKey,
			BaseVersion: p.plan.BaseVersion,
			CreatedAt:   p.created,
			ExpiresAt:   p.expires,
			Summary:     p.plan.Diff.Summary,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PlanID < out[j].PlanID
	})
	return out
}

// Cancel discards a pending plan.
func (s *Service) Cancel(ctx context.Context, planID string) error {
	if _, ok := s.take(planID); !ok {
		return fmt.Errorf("cancel %s: %w", planID, ErrPlanNotFound)
	}
	logging.FromContext(ctx).Info("plan cancelled", "plan_id", planID)
	return nil
}

// Confirm commits a pending plan. The plan must have been computed against
// the current registry version; otherwise ErrStaleRegistry is returned,
// nothing is written and the plan is dropped. The plan is kept when the
// commit lock is busy so the caller can retry.
func (s *Service) Confirm(ctx context.Context, planID string) (*IngestionResult, error) {
	if _, ok := s.pending(planID); !ok {
		return nil, fmt.Errorf("confirm %s: %w", planID, ErrPlanNotFound)
	}

	var res *IngestionResult
	_, err := s.write(ctx, func(cur *registry.Registry) (*registry.Registry, *ImportRecord, error) {
		p, ok := s.take(planID)
		if !ok {
			return nil, nil, fmt.Errorf("confirm %s: %w", planID, ErrPlanNotFound)
		}
		next, r, rec, err := s.apply(ctx, cur, planID, p.plan)
		if err != nil {
			return nil, nil, err
		}
		res = r
		return next, rec, nil
	})
	if err != nil {
		s.recordCommitError(err)
		return nil, err
	}

	s.metrics.observeCommit("ok", &res.Diff)
	s.logCommitted(ctx, planID, res)
	return res, nil
}

// commitPlan commits a plan that was never stored, used for the first
// import into an empty registry.
func (s *Service) commitPlan(ctx context.Context, planID string, plan *ingest.Plan) (*IngestionResult, error) {
	var res *IngestionResult
	_, err := s.write(ctx, func(cur *registry.Registry) (*registry.Registry, *ImportRecord, error) {
		next, r, rec, err := s.apply(ctx, cur, planID, plan)
		if err != nil {
			return nil, nil, err
		}
		res = r
		return next, rec, nil
	})
	if err != nil {
		s.recordCommitError(err)
		return nil, err
	}

	s.metrics.observeCommit("ok", &res.Diff)
	s.logCommitted(ctx, planID, res)
	return res, nil
}

// apply re-runs the planner against the current registry and commits the
// fresh plan. Re-planning with the plan's own run info reproduces the
// previewed diff exactly when the version check passes.
func (s *Service) apply(ctx context.Context, cur *registry.Registry, planID string, plan *ingest.Plan) (*registry.Registry, *IngestionResult, *ImportRecord, error) {
	if plan.BaseVersion != cur.Version() {
		return nil, nil, nil, fmt.Errorf("confirm %s: plan base %d, registry %d: %w",
			planID, plan.BaseVersion, cur.Version(), ingest.ErrStaleRegistry)
	}

	run := ingest.RunInfo{ImportRunID: plan.Diff.ImportRunID, At: plan.Diff.ComputedAt}
	fresh, err := s.planner.Plan(ctx, cur, plan.Batch, run)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("confirm %s: %w", planID, err)
	}
	fresh.Warnings = plan.Warnings
	fresh.Counts.Warnings = len(plan.Warnings)

	at := s.now()
	next, diff, err := ingest.Commit(cur, fresh, ingest.CommitOptions{At: at, NewUID: s.newID})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("confirm %s: %w", planID, err)
	}

	res := resultFromPlan(fresh, StateConfirmed)
	res.PlanID = planID
	res.Diff = diff
	res.Version = next.Version()

	rec := &ImportRecord{
		ImportRunID: diff.ImportRunID,
		PlanID:      planID,
		SourceFile:  diff.SourceFile,
		SourceType:  diff.SourceType,
		PlantKey:    diff.PlantKey,
		Version:     next.Version(),
		CommittedAt: at,
		Summary:     diff.Summary,
		Warnings:    len(fresh.Warnings),
		Diff:        diff,
	}
	return next, res, rec, nil
}

func (s *Service) recordCommitError(err error) {
	if errors.Is(err, ingest.ErrStaleRegistry) {
		s.metrics.observeCommit("stale", nil)
		return
	}
	s.metrics.observeCommit("error", nil)
}

func (s *Service) logCommitted(ctx context.Context, planID string, res *IngestionResult) {
	attrs := append([]any{
		"plan_id", planID,
		"import_run_id", res.Diff.ImportRunID,
		"version", res.Version,
		"created", res.Diff.Summary.Created,
		"updated", res.Diff.Summary.Updated,
		"deleted", res.Diff.Summary.Deleted,
		"renamed", res.Diff.Summary.Renamed,
		"ambiguous", res.Diff.Summary.Ambiguous,
	}, requestAttrs(ctx)...)
	logging.FromContext(ctx).Info("import committed", attrs...)
}

// pending returns an unexpired plan without removing it.
func (s *Service) pending(planID string) (*pendingPlan, bool) {
	s.plansMu.Lock()
	defer s.plansMu.Unlock()
	p, ok := s.plans[planID]
	if !ok || !s.now().Before(p.expires) {
		return nil, false
	}
	return p, true
}

// take removes and returns an unexpired plan.
func (s *Service) take(planID string) (*pendingPlan, bool) {
	s.plansMu.Lock()
	p, ok := s.plans[planID]
	delete(s.plans, planID)
	n := len(s.plans)
	s.plansMu.Unlock()
	s.metrics.setPending(n)

	if !ok || !s.now().Before(p.expires) {
		return nil, false
	}
	return p, true
}

func (s *Service) dropPlans() {
	s.plansMu.Lock()
	s.plans = make(map[string]*pendingPlan)
	s.plansMu.Unlock()
	s.metrics.setPending(0)
}
