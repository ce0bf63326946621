package ingest

import (
	"sort"
	"time"

	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// FieldChange is one changed value on an existing entity.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// StatusField names the pseudo-field reported when an entity is reactivated.
const StatusField = "status"

// DiffCreate is an entity that will get a new uid. UID is filled in when
// the plan is committed.
type DiffCreate struct {
	UID           string            `json:"uid,omitempty"`
	Key           string            `json:"key"`
	EntityType    schema.EntityType `json:"entityType"`
	PlantKey      string            `json:"plantKey"`
	SuggestedName string            `json:"suggestedName,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// DiffUpdate is an existing entity matched by key or alias whose fields change.
type DiffUpdate struct {
	UID           string            `json:"uid"`
	Key           string            `json:"key"`
	EntityType    schema.EntityType `json:"entityType"`
	PlantKey      string            `json:"plantKey"`
	ChangedFields []string          `json:"changedFields"`
	Changes       []FieldChange     `json:"changes"`
	Via           string            `json:"via"`
}

// DiffDelete is an active entity absent from the import; it is deactivated on commit.
type DiffDelete struct {
	UID        string            `json:"uid"`
	Key        string            `json:"key"`
	EntityType schema.EntityType `json:"entityType"`
	PlantKey   string            `json:"plantKey"`
	LastSeen   time.Time         `json:"lastSeen"`
}

// DiffRenameOrMove is an existing entity confidently matched under a new key.
type DiffRenameOrMove struct {
	UID          string            `json:"uid"`
	OldKey       string            `json:"oldKey"`
	NewKey       string            `json:"newKey"`
	EntityType   schema.EntityType `json:"entityType"`
	PlantKey     string            `json:"plantKey"`
	Confidence   float64           `json:"confidence"`
	MatchReasons []string          `json:"matchReasons"`
	Changes      []FieldChange     `json:"changes,omitempty"`
}

// AmbiguousCandidate is one plausible owner of an ambiguous key.
type AmbiguousCandidate struct {
	UID        string   `json:"uid"`
	Key        string   `json:"key"`
	MatchScore float64  `json:"matchScore"`
	Reasons    []string `json:"reasons"`
}

// DiffAmbiguous is a key with several plausible owners. No uid is assigned.
type DiffAmbiguous struct {
	NewKey     string               `json:"newKey"`
	EntityType schema.EntityType    `json:"entityType"`
	PlantKey   string               `json:"plantKey"`
	Candidates []AmbiguousCandidate `json:"candidates"`
}

// DiffSummary counts the diff arrays.
type DiffSummary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Renamed   int `json:"renamed"`
	Ambiguous int `json:"ambiguous"`
}

// DiffResult is the full outcome of one import run.
type DiffResult struct {
	ImportRunID    string             `json:"importRunId"`
	ComputedAt     time.Time          `json:"computedAt"`
	SourceFile     string             `json:"sourceFile"`
	SourceType     SourceKind         `json:"sourceType"`
	PlantKey       string             `json:"plantKey"`
	Creates        []DiffCreate       `json:"creates"`
	Updates        []DiffUpdate       `json:"updates"`
	Deletes        []DiffDelete       `json:"deletes"`
	RenamesOrMoves []DiffRenameOrMove `json:"renamesOrMoves"`
	Ambiguous      []DiffAmbiguous    `json:"ambiguous"`
	Summary        DiffSummary        `json:"summary"`
}

// Summarize recomputes Summary from the arrays.
func (d *DiffResult) Summarize() {
	d.Summary = DiffSummary{
		Created:   len(d.Creates),
		Updated:   len(d.Updates),
		Deleted:   len(d.Deletes),
		Renamed:   len(d.RenamesOrMoves),
		Ambiguous: len(d.Ambiguous),
	}
}

// HasChanges reports whether committing the diff would change any entity.
func (d *DiffResult) HasChanges() bool {
	return len(d.Creates)+len(d.Updates)+len(d.Deletes)+len(d.RenamesOrMoves) > 0
}

// DiffMeta identifies the run a diff belongs to.
type DiffMeta struct {
	ImportRunID string
	ComputedAt  time.Time
	SourceFile  string
	SourceType  SourceKind
	PlantKey    string
}

// Coverage is the set of namespaces an import may delete from.
type Coverage map[registry.Namespace]bool

// ComputeDiff combines resolutions with the registry. Active entities of a
// covered namespace that no resolution visited, and that are not listed as
// an ambiguous candidate, are reported as deletes. The result is a pure
// function of its inputs.
//
// An entity is changed by one candidate only, an exact-key match if there
// is one. Other candidates resolving to the same uid, such as an old key
// covered by an alias, are ignored and reported as DUPLICATE_KEY warnings.
func ComputeDiff(reg *registry.Registry, resolutions []Resolution, scope Coverage, meta DiffMeta) (DiffResult, []IngestionWarning) {
	d := DiffResult{
		ImportRunID:    meta.ImportRunID,
		ComputedAt:     meta.ComputedAt,
		SourceFile:     meta.SourceFile,
		SourceType:     meta.SourceType,
		PlantKey:       meta.PlantKey,
		Creates:        []DiffCreate{},
		Updates:        []DiffUpdate{},
		Deletes:        []DiffDelete{},
		RenamesOrMoves: []DiffRenameOrMove{},
		Ambiguous:      []DiffAmbiguous{},
	}

	claimed := make(map[string]Candidate)
	held := make(map[string]bool)
	var warnings []IngestionWarning

	// claim reports whether r is the first resolution to reach its uid.
	claim := func(r Resolution) bool {
		first, dup := claimed[r.UID]
		if !dup {
			claimed[r.UID] = r.Candidate
			return true
		}
		c := r.Candidate
		warnings = append(warnings, NewWarning(WarnDuplicateKey, meta.SourceFile, c.SheetName, c.RowIndex, meta.ComputedAt,
			"%s %s resolves via %s to the entity already matched by %s (sheet %q row %d); row ignored",
			c.EntityType, c.Key, r.Via, first.Key, first.SheetName, first.RowIndex))
		return false
	}

	// Exact-key rows claim their entity before alias or fuzzy rows do.
	ordered := make([]Resolution, len(resolutions))
	copy(ordered, resolutions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Via == ViaExactKey && ordered[j].Via != ViaExactKey
	})

	for _, r := range ordered {
		cand := r.Candidate
		switch r.Outcome {
		case OutcomeCreate:
			d.Creates = append(d.Creates, DiffCreate{
				Key:           cand.Key,
				EntityType:    cand.EntityType,
				PlantKey:      cand.PlantKey,
				SuggestedName: cand.Key,
				Labels:        cand.Labels,
			})

		case OutcomeUpdate:
			if !claim(r) {
				continue
			}
			e, ok := reg.Entity(r.UID)
			if !ok {
				continue
			}
			changes := labelChanges(e, cand.Labels)
			if !e.Active() {
				changes = append([]FieldChange{{Field: StatusField, Old: string(registry.StatusInactive), New: string(registry.StatusActive)}}, changes...)
			}
			if len(changes) == 0 {
				continue
			}
			d.Updates = append(d.Updates, DiffUpdate{
				UID:           e.UID,
				Key:           e.Key,
				EntityType:    e.EntityType,
				PlantKey:      e.PlantKey,
				ChangedFields: changedFields(changes),
				Changes:       changes,
				Via:           r.Via,
			})

		case OutcomeRenameOrMove:
			if !claim(r) {
				continue
			}
			e, ok := reg.Entity(r.UID)
			if !ok {
				continue
			}
			changes := labelChanges(e, cand.Labels)
			if !e.Active() {
				changes = append([]FieldChange{{Field: StatusField, Old: string(registry.StatusInactive), New: string(registry.StatusActive)}}, changes...)
			}
			d.RenamesOrMoves = append(d.RenamesOrMoves, DiffRenameOrMove{
				UID:          e.UID,
				OldKey:       e.Key,
				NewKey:       cand.Key,
				EntityType:   e.EntityType,
				PlantKey:     e.PlantKey,
				Confidence:   r.Score,
				MatchReasons: r.Reasons,
				Changes:      changes,
			})

		case OutcomeAmbiguous:
			amb := DiffAmbiguous{
				NewKey:     cand.Key,
				EntityType: cand.EntityType,
				PlantKey:   cand.PlantKey,
				Candidates: make([]AmbiguousCandidate, 0, len(r.Matches)),
			}
			for _, m := range r.Matches {
				held[m.UID] = true
				amb.Candidates = append(amb.Candidates, AmbiguousCandidate{
					UID:        m.UID,
					Key:        m.Key,
					MatchScore: m.Score,
					Reasons:    m.Reasons,
				})
			}
			d.Ambiguous = append(d.Ambiguous, amb)
		}
	}

	for _, e := range reg.Entities() {
		_, seen := claimed[e.UID]
		if !e.Active() || seen || held[e.UID] || !scope[e.Namespace()] {
			continue
		}
		d.Deletes = append(d.Deletes, DiffDelete{
			UID:        e.UID,
			Key:        e.Key,
			EntityType: e.EntityType,
			PlantKey:   e.PlantKey,
			LastSeen:   e.UpdatedAt,
		})
	}

	sortDiff(&d)
	d.Summarize()
	return d, warnings
}

// labelChanges lists incoming labels that differ from the entity's. Labels
// missing from the incoming row are left alone.
func labelChanges(e registry.EntityRecord, incoming map[string]string) []FieldChange {
	fields := make([]string, 0, len(incoming))
	for f := range incoming {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var changes []FieldChange
	for _, f := range fields {
		if old := e.Labels[f]; old != incoming[f] {
			changes = append(changes, FieldChange{Field: f, Old: old, New: incoming[f]})
		}
	}
	return changes
}

func changedFields(changes []FieldChange) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Field
	}
	return out
}

type nsKey struct {
	plant string
	typ   schema.EntityType
	key   string
	uid   string
}

func (a nsKey) less(b nsKey) bool {
	if a.plant != b.plant {
		return a.plant < b.plant
	}
	if a.typ != b.typ {
		return a.typ < b.typ
	}
	if a.key != b.key {
		return a.key < b.key
	}
	return a.uid < b.uid
}

func sortDiff(d *DiffResult) {
	sort.SliceStable(d.Creates, func(i, j int) bool {
		a, b := d.Creates[i], d.Creates[j]
		return nsKey{a.PlantKey, a.EntityType, a.Key, ""}.less(nsKey{b.PlantKey, b.EntityType, b.Key, ""})
	})
	sort.SliceStable(d.Updates, func(i, j int) bool {
		a, b := d.Updates[i], d.Updates[j]
		return nsKey{a.PlantKey, a.EntityType, a.Key, a.UID}.less(nsKey{b.PlantKey, b.EntityType, b.Key, b.UID})
	})
	sort.SliceStable(d.Deletes, func(i, j int) bool {
		a, b := d.Deletes[i], d.Deletes[j]
		return nsKey{a.PlantKey, a.EntityType, a.Key, a.UID}.less(nsKey{b.PlantKey, b.EntityType, b.Key, b.UID})
	})
	sort.SliceStable(d.RenamesOrMoves, func(i, j int) bool {
		a, b := d.RenamesOrMoves[i], d.RenamesOrMoves[j]
		return nsKey{a.PlantKey, a.EntityType, a.NewKey, a.UID}.less(nsKey{b.PlantKey, b.EntityType, b.NewKey, b.UID})
	})
	sort.SliceStable(d.Ambiguous, func(i, j int) bool {
		a, b := d.Ambiguous[i], d.Ambiguous[j]
		return nsKey{a.PlantKey, a.EntityType, a.NewKey, ""}.less(nsKey{b.PlantKey, b.EntityType, b.NewKey, ""})
	})
}
