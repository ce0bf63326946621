package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

func column(header string, samples ...string) Column {
	return Column{WorkbookID: "wb", SheetName: "Sheet1", Profile: ProfileColumn(header, samples)}
}

func TestMatchColumnLexical(t *testing.T) {
	m := NewMatcher(schema.Default(), DefaultMatcherOptions())

	tests := []struct {
		name      string
		header    string
		samples   []string
		wantField string
		wantConf  float64 // exact value, or -1 to only check the level
		wantLevel ConfidenceLevel
	}{
		{name: "exact name", header: "Station", wantField: "station", wantConf: 1, wantLevel: LevelHigh},
		{name: "exact synonym with punctuation", header: "Robot-No.", wantField: "robot", wantConf: 1, wantLevel: LevelHigh},
		{name: "camel case synonym", header: "SimStatus", wantField: "sim_status", wantConf: 1, wantLevel: LevelHigh},
		{name: "diacritics folded", header: "Rôboter", wantField: "robot", wantConf: 1, wantLevel: LevelHigh},
		{name: "close spelling", header: "Stations", wantField: "station", wantConf: -1, wantLevel: LevelHigh},
		{name: "empty header", header: "   ", wantField: "", wantConf: 0, wantLevel: LevelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.MatchColumn(column(tt.header, tt.samples...), nil)
			if got.MatchedField != tt.wantField {
				t.Errorf("MatchedField = %q, want %q (%s)", got.MatchedField, tt.wantField, got.Explanation)
			}
			if tt.wantConf >= 0 && got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Level() != tt.wantLevel {
				t.Errorf("Level = %s, want %s (confidence %v)", got.Level(), tt.wantLevel, got.Confidence)
			}
			if got.UsedEmbedding {
				t.Error("no embeddings configured")
			}
		})
	}
}

func TestMatchColumnOverrideWins(t *testing.T) {
	reg, err := registry.New().UpsertOverride(registry.MappingOverride{
		WorkbookID: "wb", SheetName: "Sheet1", ColumnIndex: 3, OriginalHeader: "Station", FieldID: "robot",
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	m := NewMatcher(schema.Default(), DefaultMatcherOptions())
	col := column("Station")
	col.Index = 3

	got := m.MatchColumn(col, reg)
	if got.MatchedField != "robot" || got.Confidence != 1.0 || got.Explanation != OverrideExplanation || !got.Override {
		t.Errorf("override not applied: %+v", got)
	}

	// Same header on another column is matched normally.
	col.Index = 4
	if got := m.MatchColumn(col, reg); got.MatchedField != "station" || got.Override {
		t.Errorf("override leaked to another column: %+v", got)
	}
}

func TestMatchColumnKindPenalty(t *testing.T) {
	m := NewMatcher(schema.Default(), DefaultMatcherOptions())

	numeric := m.MatchColumn(column("Quantitys", "1", "2", "4"), nil)
	wordy := m.MatchColumn(column("Quantitys", "many", "few", "some"), nil)

	if numeric.MatchedField != "quantity" {
		t.Fatalf("MatchedField = %q, want quantity", numeric.MatchedField)
	}
	if wordy.MatchedField == "quantity" && wordy.Confidence >= numeric.Confidence {
		t.Errorf("text samples should lower quantity confidence: %v vs %v", wordy.Confidence, numeric.Confidence)
	}
	if wordy.MatchedField == "quantity" && !strings.Contains(wordy.Explanation, "do not look like number") {
		t.Errorf("Explanation = %q", wordy.Explanation)
	}
}

const embedCatalog = `
fields:
  - {id: alpha, name: Alpha, kind: code, weight: 1}
  - {id: beta, name: Beta, kind: text, weight: 1}
entities:
  - {type: station, key: alpha, labels: [beta]}
`

func loadEmbedCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.Load(strings.NewReader(embedCatalog))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c.WithEmbeddings(map[string][]float32{
		"alpha": {0, 1},
		"beta":  {1, 0},
	})
}

func TestMatchColumnEmbeddingBlend(t *testing.T) {
	c := loadEmbedCatalog(t)
	col := column("Qqqq")
	col.Embedding = []float32{1, 0.1}

	tests := []struct {
		name         string
		opts         MatcherOptions
		wantField    string
		wantEmbedded bool
		minConf      float64
	}{
		{
			name:         "plain max picks embedding winner",
			opts:         DefaultMatcherOptions(),
			wantField:    "beta",
			wantEmbedded: true,
			minConf:      0.99,
		},
		{
			name: "override disabled keeps lexical winner",
			opts: MatcherOptions{
				EmbeddingConsultBelow: 0.6,
				EmbeddingWeight:       1,
				EmbeddingMayOverride:  false,
			},
			wantField:    "alpha",
			wantEmbedded: true,
			minConf:      0.09,
		},
		{
			name: "zero weight disables embeddings",
			opts: MatcherOptions{
				EmbeddingConsultBelow: 0.6,
				EmbeddingWeight:       0,
				EmbeddingMayOverride:  true,
			},
			wantField:    "",
			wantEmbedded: false,
		},
		{
			name: "half weight blends",
			opts: MatcherOptions{
				EmbeddingConsultBelow: 0.6,
				EmbeddingWeight:       0.5,
				EmbeddingMayOverride:  true,
			},
			wantField:    "beta",
			wantEmbedded: true,
			minConf:      0.49,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewMatcher(c, tt.opts).MatchColumn(col, nil)
			if got.MatchedField != tt.wantField {
				t.Errorf("MatchedField = %q, want %q (%+v)", got.MatchedField, tt.wantField, got)
			}
			if got.UsedEmbedding != tt.wantEmbedded {
				t.Errorf("UsedEmbedding = %v, want %v", got.UsedEmbedding, tt.wantEmbedded)
			}
			if got.Confidence < tt.minConf {
				t.Errorf("Confidence = %v, want >= %v", got.Confidence, tt.minConf)
			}
		})
	}
}

func TestMatchColumnEmbeddingNotConsultedForGoodLexical(t *testing.T) {
	c := loadEmbedCatalog(t)
	col := column("Alpha")
	col.Embedding = []float32{1, 0}

	got := NewMatcher(c, DefaultMatcherOptions()).MatchColumn(col, nil)
	if got.MatchedField != "alpha" || got.UsedEmbedding {
		t.Errorf("exact header should win without embeddings: %+v", got)
	}
}

func TestMatchSheet(t *testing.T) {
	m := NewMatcher(schema.Default(), DefaultMatcherOptions())
	s := Sheet{
		Name:    "Status",
		Headers: []string{"Station", "Line", "Sim Status", "Owner", ""},
		Rows:    []Row{{Index: 2, Cells: []string{"ST100", "L1", "done", "Ana", ""}}},
	}

	got, err := m.MatchSheet(context.Background(), "wb", s, nil, registry.New())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"station", "line", "sim_status", "owner", ""}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ColumnIndex != i || got[i].MatchedField != w {
			t.Errorf("column %d = %+v, want %q", i, got[i], w)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.MatchSheet(ctx, "wb", s, nil, nil); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestFieldMatchResultJSON(t *testing.T) {
	data, err := json.Marshal(FieldMatchResult{ColumnIndex: 1, MatchedField: "line", Confidence: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["confidenceLevel"] != "MEDIUM" || out["matchedField"] != "line" {
		t.Errorf("json = %s", data)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		in   float64
		want ConfidenceLevel
	}{
		{1, LevelHigh},
		{0.85, LevelHigh},
		{0.8499, LevelMedium},
		{0.6, LevelMedium},
		{0.59, LevelLow},
		{0, LevelLow},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.in); got != tt.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
