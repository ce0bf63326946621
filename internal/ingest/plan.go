package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// ErrEmptyBatch is returned when a batch has no sheets.
var ErrEmptyBatch = errors.New("batch has no sheets")

// AnyFileKind in a deletion scope lets every file kind, including
// unrecognised ones, delete the entity type.
const AnyFileKind = "*"

// DeletionScope maps an entity type to the file kinds whose imports may
// deactivate entities of that type by omission.
type DeletionScope map[schema.EntityType][]string

// Allows reports whether an import of fileKind may delete entities of t.
func (s DeletionScope) Allows(t schema.EntityType, fileKind string) bool {
	for _, k := range s[t] {
		if k == fileKind || k == AnyFileKind {
			return true
		}
	}
	return false
}

// PlannerOptions configures a Planner.
type PlannerOptions struct {
	Matcher MatcherOptions
	Resolve ResolveOptions

	// DeletionScope defaults to the catalog's file kind rules when nil.
	DeletionScope DeletionScope

	// MinLevel is the lowest column match level used for extraction.
	MinLevel ConfidenceLevel
}

// DefaultPlannerOptions returns the stock configuration.
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		Matcher:  DefaultMatcherOptions(),
		Resolve:  DefaultResolveOptions(),
		MinLevel: LevelMedium,
	}
}

// Planner runs matching, extraction, resolution and diffing for a batch.
// It holds no mutable state and is safe for concurrent use.
type Planner struct {
	catalog *schema.Catalog
	matcher *Matcher
	opts    PlannerOptions
}

// NewPlanner builds a planner over a catalog.
func NewPlanner(c *schema.Catalog, opts PlannerOptions) *Planner {
	if opts.DeletionScope == nil {
		opts.DeletionScope = DeletionScope(c.DeletionScope())
	}
	if opts.MinLevel == "" {
		opts.MinLevel = LevelMedium
	}
	return &Planner{catalog: c, matcher: NewMatcher(c, opts.Matcher), opts: opts}
}

// Catalog returns the catalog the planner matches against.
func (p *Planner) Catalog() *schema.Catalog { return p.catalog }

// Matcher returns the planner's column matcher.
func (p *Planner) Matcher() *Matcher { return p.matcher }

// RunInfo identifies one planning run. Everything time- or id-dependent in
// a plan comes from here.
type RunInfo struct {
	ImportRunID string
	At          time.Time
}

// SheetPlan is what the planner learned about one sheet.
type SheetPlan struct {
	Name     string             `json:"name"`
	FileKind string             `json:"fileKind"`
	Columns  []FieldMatchResult `json:"columns"`
	Rows     int                `json:"rows"`
	Skipped  bool               `json:"skipped"`
}

// Counts summarizes what a batch contained.
type Counts struct {
	Sheets     int                       `json:"sheets"`
	Rows       int                       `json:"rows"`
	Candidates int                       `json:"candidates"`
	ByType     map[schema.EntityType]int `json:"byType"`
	Warnings   int                       `json:"warnings"`
}

// Plan is a computed, uncommitted import. It is only produced by
// Planner.Plan, and only a Plan can be committed.
type Plan struct {
	// BaseVersion is the registry version the plan was computed against.
	BaseVersion int64 `json:"baseVersion"`

	Batch       Batch              `json:"-"`
	Sheets      []SheetPlan        `json:"sheets"`
	Resolutions []Resolution       `json:"-"`
	Diff        DiffResult         `json:"diff"`
	Warnings    []IngestionWarning `json:"warnings"`
	Counts      Counts             `json:"counts"`
}

// Plan computes the plan for a batch against a registry value. It never
// changes the registry; the same inputs always yield the same plan.
func (p *Planner) Plan(ctx context.Context, reg *registry.Registry, b Batch, run RunInfo) (*Plan, error) {
	if len(b.Sheets) == 0 {
		return nil, ErrEmptyBatch
	}

	plan := &Plan{
		BaseVersion: reg.Version(),
		Batch:       b,
		Warnings:    []IngestionWarning{},
		Counts: Counts{
			Sheets: len(b.Sheets),
			Rows:   b.RowCount(),
			ByType: make(map[schema.EntityType]int),
		},
	}

	var all []Candidate
	scope := make(Coverage)

	for _, s := range b.Sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cols, err := p.matcher.MatchSheet(ctx, b.WorkbookID, s, b.HeaderEmbeddings, reg)
		if err != nil {
			return nil, err
		}

		assigned := AssignColumns(cols, p.catalog, p.opts.MinLevel)
		kind := b.FileKind
		if kind == "" {
			kind = DetectFileKind(p.catalog, assigned)
		}

		cands, warnings := Extract(s, cols, p.catalog, ExtractOptions{
			FileName: b.FileName,
			PlantKey: b.PlantKey,
			MinLevel: p.opts.MinLevel,
			At:       run.At,
		})
		plan.Warnings = append(plan.Warnings, warnings...)

		skipped := false
		for _, w := range warnings {
			if w.Kind == WarnSheetSkipped {
				skipped = true
			}
		}

		plan.Sheets = append(plan.Sheets, SheetPlan{
			Name:     s.Name,
			FileKind: kind,
			Columns:  cols,
			Rows:     len(s.Rows),
			Skipped:  skipped,
		})

		for _, c := range cands {
			if p.opts.DeletionScope.Allows(c.EntityType, kind) {
				scope[c.Namespace()] = true
			}
		}
		all = append(all, cands...)
	}

	merged, dupWarnings := MergeCandidates(all, b.FileName, run.At)
	plan.Warnings = append(plan.Warnings, dupWarnings...)
	plan.Counts.Candidates = len(merged)
	for _, c := range merged {
		plan.Counts.ByType[c.EntityType]++
	}

	ropts := p.opts.Resolve
	ropts.Now = run.At
	res, err := Resolve(ctx, reg, merged, p.catalog, ropts)
	if err != nil {
		return nil, err
	}
	plan.Resolutions = res

	diff, claimWarnings := ComputeDiff(reg, res, scope, DiffMeta{
		ImportRunID: run.ImportRunID,
		ComputedAt:  run.At,
		SourceFile:  b.FileName,
		SourceType:  b.SourceKind,
		PlantKey:    b.PlantKey,
	})
	plan.Diff = diff
	plan.Warnings = append(plan.Warnings, claimWarnings...)

	sort.SliceStable(plan.Warnings, func(i, j int) bool {
		a, b := plan.Warnings[i], plan.Warnings[j]
		if a.SheetName != b.SheetName {
			return a.SheetName < b.SheetName
		}
		return a.RowIndex < b.RowIndex
	})
	plan.Counts.Warnings = len(plan.Warnings)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", b.FileName, err)
	}
	return plan, nil
}

// AddWarning attaches a warning produced outside the planner, such as an
// unavailable embedding provider.
func (p *Plan) AddWarning(w IngestionWarning) {
	p.Warnings = append(p.Warnings, w)
	p.Counts.Warnings = len(p.Warnings)
}
