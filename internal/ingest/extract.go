package ingest

import (
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/simsync/internal/match"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// Candidate is one entity as seen in the incoming rows, before resolution.
type Candidate struct {
	EntityType schema.EntityType `json:"entityType"`
	PlantKey   string            `json:"plantKey"`
	Key        string            `json:"key"`
	Labels     map[string]string `json:"labels,omitempty"`
	SheetName  string            `json:"sheetName"`
	RowIndex   int               `json:"rowIndex"`
}

// Namespace returns the (plant, type) partition of the candidate.
func (c Candidate) Namespace() registry.Namespace {
	return registry.Namespace{PlantKey: c.PlantKey, EntityType: c.EntityType}
}

// ExtractOptions carries per-batch context for extraction.
type ExtractOptions struct {
	FileName string
	PlantKey string

	// MinLevel is the lowest match level a column needs to be used.
	MinLevel ConfidenceLevel

	// At stamps the warnings.
	At time.Time
}

// AssignColumns picks one column per field from the match results. Only
// fields known to the catalog at or above min are used. When several
// columns map to the same field the most confident wins, then the leftmost.
func AssignColumns(matches []FieldMatchResult, c *schema.Catalog, min ConfidenceLevel) map[string]int {
	assigned := make(map[string]int)
	best := make(map[string]float64)
	for _, m := range matches {
		if !m.Matched() || !m.Level().AtLeast(min) {
			continue
		}
		if _, ok := c.Field(m.MatchedField); !ok {
			continue
		}
		if prev, seen := best[m.MatchedField]; seen && m.Confidence <= prev {
			continue
		}
		assigned[m.MatchedField] = m.ColumnIndex
		best[m.MatchedField] = m.Confidence
	}
	return assigned
}

// DetectFileKind names the file kind of a sheet from its assigned columns.
func DetectFileKind(c *schema.Catalog, assigned map[string]int) string {
	matched := make(map[string]bool, len(assigned))
	for f := range assigned {
		matched[f] = true
	}
	return c.DetectFileKind(matched)
}

// Extract turns the rows of one sheet into candidates. Problems with single
// rows become ROW_SKIPPED warnings; a sheet without any usable entity key
// column becomes one SHEET_SKIPPED warning.
func Extract(s Sheet, matches []FieldMatchResult, c *schema.Catalog, opts ExtractOptions) ([]Candidate, []IngestionWarning) {
	var warnings []IngestionWarning
	warn := func(kind WarningKind, row int, format string, args ...any) {
		warnings = append(warnings, NewWarning(kind, opts.FileName, s.Name, row, opts.At, format, args...))
	}

	if len(s.Headers) == 0 {
		warn(WarnSheetSkipped, 0, "sheet %s has no header row", sheetLabel(s.Name))
		return nil, warnings
	}

	assigned := AssignColumns(matches, c, opts.MinLevel)

	var specs []schema.EntitySpec
	for _, spec := range c.Entities() {
		if _, ok := assigned[spec.KeyField]; ok {
			specs = append(specs, spec)
		}
	}
	if len(specs) == 0 {
		var keys []string
		for _, spec := range c.Entities() {
			keys = append(keys, spec.KeyField)
		}
		warn(WarnSheetSkipped, 0, "sheet %s has no column matching an entity key (%s)",
			sheetLabel(s.Name), strings.Join(keys, ", "))
		return nil, warnings
	}

	plantCol, hasPlant := assigned[schema.PlantField]

	var out []Candidate
	for _, row := range s.Rows {
		if row.Err != nil {
			warn(WarnRowSkipped, row.Index, "unreadable row: %v", row.Err)
			continue
		}
		if row.IsEmpty() {
			continue
		}

		plant := match.NormalizeKey(opts.PlantKey)
		if hasPlant {
			if p := match.NormalizeKey(row.Cell(plantCol)); p != "" {
				plant = p
			}
		}

		found := 0
		for _, spec := range specs {
			key := match.NormalizeKey(row.Cell(assigned[spec.KeyField]))
			if key == "" {
				continue
			}
			found++
			out = append(out, Candidate{
				EntityType: spec.Type,
				PlantKey:   plant,
				Key:        key,
				Labels:     rowLabels(row, spec, assigned, c),
				SheetName:  s.Name,
				RowIndex:   row.Index,
			})
		}
		if found == 0 {
			warn(WarnRowSkipped, row.Index, "row has no value in any entity key column")
		}
	}

	return out, warnings
}

func rowLabels(row Row, spec schema.EntitySpec, assigned map[string]int, c *schema.Catalog) map[string]string {
	var labels map[string]string
	for _, f := range spec.LabelFields {
		col, ok := assigned[f]
		if !ok {
			continue
		}
		v := row.Cell(col)
		if v == "" {
			continue
		}
		if field, _ := c.Field(f); field.Kind == schema.KindCode {
			v = match.NormalizeKey(v)
		}
		if labels == nil {
			labels = make(map[string]string)
		}
		labels[f] = v
	}
	return labels
}

type candidateKey struct {
	ns  registry.Namespace
	key string
}

// MergeCandidates folds repeated (type, plant, key) candidates into one.
// Labels are merged; when two rows disagree on a label the first value is
// kept and a DUPLICATE_KEY warning is raised. The result is sorted by
// plant, type and key.
func MergeCandidates(cands []Candidate, fileName string, at time.Time) ([]Candidate, []IngestionWarning) {
	var warnings []IngestionWarning
	index := make(map[candidateKey]int)
	var out []Candidate

	for _, cand := range cands {
		k := candidateKey{ns: cand.Namespace(), key: cand.Key}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, cand)
			continue
		}

		kept := &out[i]
		fields := make([]string, 0, len(cand.Labels))
		for f := range cand.Labels {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, f := range fields {
			v := cand.Labels[f]
			prev, has := kept.Labels[f]
			switch {
			case !has:
				if kept.Labels == nil {
					kept.Labels = make(map[string]string)
				}
				kept.Labels[f] = v
			case prev != v:
				warnings = append(warnings, NewWarning(WarnDuplicateKey, fileName, cand.SheetName, cand.RowIndex, at,
					"%s %s repeats row %d with %s %q (kept %q)", cand.EntityType, cand.Key, kept.RowIndex, f, v, prev))
			}
		}
	}

	sortCandidates(out)
	return out, warnings
}

func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.PlantKey != b.PlantKey {
			return a.PlantKey < b.PlantKey
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.Key < b.Key
	})
}
