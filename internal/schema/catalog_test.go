package schema

import (
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	for _, id := range []string{"plant", "station", "line", "robot", "tool", "sim_status", "comment"} {
		if _, ok := c.Field(id); !ok {
			t.Errorf("default catalog missing field %q", id)
		}
	}

	for _, et := range []EntityType{Station, Robot, Tool} {
		spec, ok := c.EntitySpec(et)
		if !ok {
			t.Fatalf("missing entity spec %q", et)
		}
		if spec.KeyField == "" {
			t.Errorf("entity %q has no key field", et)
		}
	}

	if c.Weight("station") <= c.Weight("comment") {
		t.Errorf("station weight %v should exceed comment weight %v", c.Weight("station"), c.Weight("comment"))
	}
	if c.Weight("does_not_exist") != 1 {
		t.Errorf("unknown field weight = %v, want 1", c.Weight("does_not_exist"))
	}
}

func TestDetectFileKind(t *testing.T) {
	c := Default()

	tests := []struct {
		name    string
		matched []string
		want    string
	}{
		{"simulation status", []string{"station", "sim_status", "owner"}, "simulation_status"},
		{"robot list", []string{"robot", "robot_type", "station"}, "robot_list"},
		{"tool list", []string{"tool", "tool_type"}, "tool_list"},
		{"nothing", []string{"comment"}, UnknownFileKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := make(map[string]bool)
			for _, f := range tt.matched {
				m[f] = true
			}
			if got := c.DetectFileKind(m); got != tt.want {
				t.Errorf("DetectFileKind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeletionScope(t *testing.T) {
	scope := Default().DeletionScope()
	if got := scope[Station]; len(got) != 1 || got[0] != "simulation_status" {
		t.Errorf("station scope = %v", got)
	}
	if got := scope[Tool]; len(got) != 1 || got[0] != "tool_list" {
		t.Errorf("tool scope = %v", got)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown key field",
			doc: `
fields:
  - {id: a, name: A}
entities:
  - {type: station, key: b}
`,
			want: "unknown key field",
		},
		{
			name: "duplicate field",
			doc: `
fields:
  - {id: a, name: A}
  - {id: a, name: A2}
entities:
  - {type: station, key: a}
`,
			want: "duplicate field id",
		},
		{
			name: "missing name",
			doc: `
fields:
  - {id: a}
entities:
  - {type: station, key: a}
`,
			want: "validate catalog",
		},
		{
			name: "bad kind",
			doc: `
fields:
  - {id: a, name: A, kind: blob}
entities:
  - {type: station, key: a}
`,
			want: "validate catalog",
		},
		{
			name: "unknown top-level key",
			doc: `
fieldz: []
`,
			want: "decode catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}

func TestWithEmbeddings(t *testing.T) {
	base := Default()
	if base.HasEmbeddings() {
		t.Fatal("default catalog should carry no embeddings")
	}

	withVec := base.WithEmbeddings(map[string][]float32{"station": {1, 0}})
	f, _ := withVec.Field("station")
	if len(f.Embedding) != 2 {
		t.Errorf("station embedding = %v", f.Embedding)
	}
	if !withVec.HasEmbeddings() {
		t.Error("HasEmbeddings should be true after attaching vectors")
	}

	// The original is untouched
	orig, _ := base.Field("station")
	if len(orig.Embedding) != 0 {
		t.Error("WithEmbeddings mutated the source catalog")
	}
}

func TestEmbeddingText(t *testing.T) {
	f := CanonicalField{Name: "Robot", Synonyms: []string{"rb", "robot no"}}
	if got := f.EmbeddingText(); got != "Robot, rb, robot no" {
		t.Errorf("EmbeddingText = %q", got)
	}
}
