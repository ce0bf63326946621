package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/simsync/internal/match"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// ConfidenceLevel is the bucket a match confidence falls into.
type ConfidenceLevel string

const (
	LevelHigh   ConfidenceLevel = "HIGH"
	LevelMedium ConfidenceLevel = "MEDIUM"
	LevelLow    ConfidenceLevel = "LOW"
)

// Level thresholds.
const (
	HighConfidence   = 0.85
	MediumConfidence = 0.6
)

// LevelFor buckets a confidence value.
func LevelFor(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= HighConfidence:
		return LevelHigh
	case confidence >= MediumConfidence:
		return LevelMedium
	default:
		return LevelLow
	}
}

// rank orders levels so they can be compared.
func (l ConfidenceLevel) rank() int {
	switch l {
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is the same as or above min.
func (l ConfidenceLevel) AtLeast(min ConfidenceLevel) bool {
	return l.rank() >= min.rank()
}

// OverrideExplanation is the explanation of every override-driven match.
const OverrideExplanation = "User override"

// FieldMatchResult is the best field for one column. Confidence is the only
// stored score; the level is derived from it.
type FieldMatchResult struct {
	ColumnIndex   int     `json:"columnIndex"`
	Header        string  `json:"header"`
	MatchedField  string  `json:"matchedField,omitempty"`
	Confidence    float64 `json:"confidence"`
	Explanation   string  `json:"explanation"`
	UsedEmbedding bool    `json:"usedEmbedding"`
	Override      bool    `json:"override"`
}

// Level returns the confidence bucket.
func (r FieldMatchResult) Level() ConfidenceLevel { return LevelFor(r.Confidence) }

// Matched reports whether the column maps to a field.
func (r FieldMatchResult) Matched() bool { return r.MatchedField != "" }

func (r FieldMatchResult) MarshalJSON() ([]byte, error) {
	type plain FieldMatchResult
	return json.Marshal(struct {
		plain
		ConfidenceLevel ConfidenceLevel `json:"confidenceLevel"`
	}{plain(r), r.Level()})
}

// OverrideLookup finds the mapping override for a column.
// *registry.Registry satisfies it.
type OverrideLookup interface {
	Override(k registry.ColumnKey) (registry.MappingOverride, bool)
}

// MatcherOptions tunes how lexical and embedding scores combine.
type MatcherOptions struct {
	// EmbeddingConsultBelow: embeddings are only consulted when the best
	// lexical score is below this value.
	EmbeddingConsultBelow float64

	// EmbeddingWeight blends a field's embedding score into its lexical
	// score: blended = w*embedding + (1-w)*lexical, and the field's final
	// score is max(lexical, blended). 1 means plain max, 0 disables
	// embeddings.
	EmbeddingWeight float64

	// EmbeddingMayOverride lets an embedding score pick a different field
	// than the lexical winner. When false embeddings can only raise the
	// confidence of the lexical winner.
	EmbeddingMayOverride bool

	// KindPenalty multiplies the score of a number, date or bool field
	// when the column's values clearly do not fit it.
	KindPenalty float64

	// Workers bounds the goroutines used by MatchSheet.
	Workers int
}

// DefaultMatcherOptions returns the default blend.
func DefaultMatcherOptions() MatcherOptions {
	return MatcherOptions{
		EmbeddingConsultBelow: 0.6,
		EmbeddingWeight:       1.0,
		EmbeddingMayOverride:  true,
		KindPenalty:           0.9,
	}
}

// Matcher maps columns onto catalog fields. It is safe for concurrent use.
type Matcher struct {
	catalog *schema.Catalog
	fields  []matchField
	opts    MatcherOptions
}

// matchField caches the normalized names of a field.
type matchField struct {
	schema.CanonicalField
	names []string // normalized name then synonyms, blanks dropped
}

// NewMatcher prepares a matcher for a catalog.
func NewMatcher(c *schema.Catalog, opts MatcherOptions) *Matcher {
	if opts.KindPenalty <= 0 || opts.KindPenalty > 1 {
		opts.KindPenalty = DefaultMatcherOptions().KindPenalty
	}
	m := &Matcher{catalog: c, opts: opts}
	for _, f := range c.Fields() {
		mf := matchField{CanonicalField: f}
		for _, n := range append([]string{f.Name}, f.Synonyms...) {
			if norm := match.Normalize(n); norm != "" {
				mf.names = append(mf.names, norm)
			}
		}
		m.fields = append(m.fields, mf)
	}
	return m
}

// Column is everything the matcher needs to know about one column.
type Column struct {
	WorkbookID string
	SheetName  string
	Index      int
	Profile    ColumnProfile
	Embedding  []float32
}

// MatchColumn returns the best field for a column. It never modifies the
// override table.
func (m *Matcher) MatchColumn(col Column, overrides OverrideLookup) FieldMatchResult {
	res := FieldMatchResult{ColumnIndex: col.Index, Header: col.Profile.Header}

	if overrides != nil {
		key := registry.ColumnKey{WorkbookID: col.WorkbookID, SheetName: col.SheetName, ColumnIndex: col.Index}
		if o, ok := overrides.Override(key); ok {
			res.MatchedField = o.FieldID
			res.Confidence = 1.0
			res.Explanation = OverrideExplanation
			res.Override = true
			return res
		}
	}

	header := col.Profile.Normalized
	if header == "" {
		res.Explanation = "Empty header"
		return res
	}

	// Exact normalized match on name or synonym
	for _, f := range m.fields {
		for i, n := range f.names {
			if n == header {
				res.MatchedField = f.ID
				res.Confidence = 1.0
				if i == 0 {
					res.Explanation = fmt.Sprintf("Exact match on name %q", f.Name)
				} else {
					res.Explanation = fmt.Sprintf("Exact match on synonym %q", n)
				}
				return res
			}
		}
	}

	type scored struct {
		field    *matchField
		lexical  float64
		via      string
		final    float64
		embedded bool
		penalty  bool
	}

	scores := make([]scored, len(m.fields))
	bestLex := -1
	for i := range m.fields {
		f := &m.fields[i]
		s := scored{field: f}
		for _, n := range f.names {
			if v := match.TextScore(header, n); v > s.lexical {
				s.lexical, s.via = v, n
			}
		}
		if col.Profile.Incompatible(f.Kind) {
			s.lexical *= m.opts.KindPenalty
			s.penalty = true
		}
		s.final = s.lexical
		scores[i] = s
		if bestLex < 0 || s.lexical > scores[bestLex].lexical {
			bestLex = i
		}
	}

	if bestLex < 0 {
		res.Explanation = "No fields in catalog"
		return res
	}

	winner := bestLex
	if m.consultEmbeddings(scores[bestLex].lexical, col.Embedding) {
		w := m.opts.EmbeddingWeight
		for i := range scores {
			s := &scores[i]
			if !m.opts.EmbeddingMayOverride && i != bestLex {
				continue
			}
			emb := match.Cosine(col.Embedding, s.field.Embedding)
			if s.penalty {
				emb *= m.opts.KindPenalty
			}
			if blended := w*emb + (1-w)*s.lexical; blended > s.final {
				s.final, s.embedded = blended, true
			}
		}
		for i := range scores {
			if scores[i].final > scores[winner].final {
				winner = i
			}
		}
	}

	best := scores[winner]
	if best.final <= 0 {
		res.Explanation = "No matching field"
		return res
	}

	res.MatchedField = best.field.ID
	res.Confidence = clamp01(best.final)
	res.UsedEmbedding = best.embedded
	if best.embedded {
		res.Explanation = fmt.Sprintf("Embedding similarity to %q", best.field.Name)
	} else {
		res.Explanation = fmt.Sprintf("Similar to %q", best.via)
	}
	if best.penalty {
		res.Explanation += fmt.Sprintf("; values do not look like %s", best.field.Kind)
	}
	return res
}

func (m *Matcher) consultEmbeddings(bestLexical float64, header []float32) bool {
	return len(header) > 0 &&
		m.opts.EmbeddingWeight > 0 &&
		bestLexical < m.opts.EmbeddingConsultBelow &&
		m.catalog.HasEmbeddings()
}

// columnsPerTask is the chunk size for parallel column matching.
const columnsPerTask = 8

// MatchSheet matches every column of a sheet. Header embeddings are looked
// up by HeaderKey and may be nil.
func (m *Matcher) MatchSheet(ctx context.Context, workbookID string, s Sheet, embeddings map[string][]float32, overrides OverrideLookup) ([]FieldMatchResult, error) {
	profiles := ProfileSheet(s)
	out := make([]FieldMatchResult, len(profiles))

	err := forEachChunk(ctx, len(profiles), columnsPerTask, m.opts.Workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			out[i] = m.MatchColumn(Column{
				WorkbookID: workbookID,
				SheetName:  s.Name,
				Index:      i,
				Profile:    profiles[i],
				Embedding:  embeddings[profiles[i].Normalized],
			}, overrides)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("match sheet %q: %w", s.Name, err)
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
