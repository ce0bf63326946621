// Package schema holds the canonical field catalog: the fixed set of fields
// that spreadsheet columns are mapped onto, the entity types built from
// them, and the file kinds recognised from matched columns.
//
// The catalog is static. The default one is embedded from fields.yaml and
// loaded once; tests and tools can load their own with [Load].
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var defaultCatalogYAML []byte

// FieldKind is the expected value shape of a canonical field.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindCode   FieldKind = "code"
	KindNumber FieldKind = "number"
	KindDate   FieldKind = "date"
	KindBool   FieldKind = "bool"
)

// EntityType names one of the entity kinds tracked in the registry.
type EntityType string

const (
	Station EntityType = "station"
	Robot   EntityType = "robot"
	Tool    EntityType = "tool"
)

// PlantField is the canonical field that overrides a batch's plant key per row.
const PlantField = "plant"

// CanonicalField is one target of column matching.
type CanonicalField struct {
	ID        string    `yaml:"id" json:"id" validate:"required"`
	Name      string    `yaml:"name" json:"name" validate:"required"`
	Synonyms  []string  `yaml:"synonyms" json:"synonyms"`
	Kind      FieldKind `yaml:"kind" json:"kind" validate:"omitempty,oneof=text code number date bool"`
	Weight    float64   `yaml:"weight" json:"weight" validate:"gte=0"`
	Embedding []float32 `yaml:"embedding,omitempty" json:"embedding,omitempty"`
}

// EntitySpec describes how rows become entities of one type.
type EntitySpec struct {
	Type        EntityType `yaml:"type" json:"type" validate:"required"`
	KeyField    string     `yaml:"key" json:"key" validate:"required"`
	LabelFields []string   `yaml:"labels" json:"labels"`
}

// FileKind is a recognisable export shape. A sheet is of this kind when all
// Signature fields were matched. Deletes lists the entity types an import
// of this kind is allowed to deactivate by omission.
type FileKind struct {
	ID        string       `yaml:"id" json:"id" validate:"required"`
	Signature []string     `yaml:"signature" json:"signature" validate:"required,min=1"`
	Deletes   []EntityType `yaml:"deletes" json:"deletes"`
}

// UnknownFileKind is reported when no signature matches.
const UnknownFileKind = "unknown"

type catalogDoc struct {
	Fields    []CanonicalField `yaml:"fields" validate:"required,min=1,dive"`
	Entities  []EntitySpec     `yaml:"entities" validate:"required,min=1,dive"`
	FileKinds []FileKind       `yaml:"file_kinds" validate:"dive"`
}

// Catalog is an immutable, validated field catalog.
type Catalog struct {
	fields    []CanonicalField
	byID      map[string]int
	entities  []EntitySpec
	fileKinds []FileKind
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. It panics if the embedded YAML is
// invalid, which can only happen through a bad edit caught by the tests.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(bytes.NewReader(defaultCatalogYAML))
		if err != nil {
			panic(fmt.Sprintf("embedded field catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load parses and validates a catalog document.
func Load(r io.Reader) (*Catalog, error) {
	var doc catalogDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	c := &Catalog{
		fields:    doc.Fields,
		byID:      make(map[string]int, len(doc.Fields)),
		entities:  doc.Entities,
		fileKinds: doc.FileKinds,
	}

	for i, f := range doc.Fields {
		if _, dup := c.byID[f.ID]; dup {
			return nil, fmt.Errorf("duplicate field id %q", f.ID)
		}
		c.byID[f.ID] = i
	}

	seenTypes := make(map[EntityType]bool)
	for _, e := range doc.Entities {
		if seenTypes[e.Type] {
			return nil, fmt.Errorf("duplicate entity type %q", e.Type)
		}
		seenTypes[e.Type] = true
		if _, ok := c.byID[e.KeyField]; !ok {
			return nil, fmt.Errorf("entity %q: unknown key field %q", e.Type, e.KeyField)
		}
		for _, l := range e.LabelFields {
			if _, ok := c.byID[l]; !ok {
				return nil, fmt.Errorf("entity %q: unknown label field %q", e.Type, l)
			}
		}
	}

	for _, k := range doc.FileKinds {
		for _, s := range k.Signature {
			if _, ok := c.byID[s]; !ok {
				return nil, fmt.Errorf("file kind %q: unknown signature field %q", k.ID, s)
			}
		}
		for _, t := range k.Deletes {
			if !seenTypes[t] {
				return nil, fmt.Errorf("file kind %q: unknown entity type %q", k.ID, t)
			}
		}
	}

	return c, nil
}

// Fields returns the canonical fields in catalog order.
func (c *Catalog) Fields() []CanonicalField {
	out := make([]CanonicalField, len(c.fields))
	copy(out, c.fields)
	return out
}

// Field returns a canonical field by id.
func (c *Catalog) Field(id string) (CanonicalField, bool) {
	i, ok := c.byID[id]
	if !ok {
		return CanonicalField{}, false
	}
	return c.fields[i], true
}

// Weight returns the label weight of a field, or 1 for unknown ids.
func (c *Catalog) Weight(id string) float64 {
	if f, ok := c.Field(id); ok {
		return f.Weight
	}
	return 1
}

// Entities returns the entity specs in catalog order.
func (c *Catalog) Entities() []EntitySpec {
	out := make([]EntitySpec, len(c.entities))
	copy(out, c.entities)
	return out
}

// EntitySpec returns the spec for one entity type.
func (c *Catalog) EntitySpec(t EntityType) (EntitySpec, bool) {
	for _, e := range c.entities {
		if e.Type == t {
			return e, true
		}
	}
	return EntitySpec{}, false
}

// FileKinds returns the file kinds in catalog order.
func (c *Catalog) FileKinds() []FileKind {
	out := make([]FileKind, len(c.fileKinds))
	copy(out, c.fileKinds)
	return out
}

// DetectFileKind returns the file kind whose signature is fully covered by
// the matched field ids. The longest signature wins; catalog order breaks
// ties. Returns UnknownFileKind when nothing matches.
func (c *Catalog) DetectFileKind(matched map[string]bool) string {
	best, bestLen := UnknownFileKind, 0
	for _, k := range c.fileKinds {
		covered := true
		for _, f := range k.Signature {
			if !matched[f] {
				covered = false
				break
			}
		}
		if covered && len(k.Signature) > bestLen {
			best, bestLen = k.ID, len(k.Signature)
		}
	}
	return best
}

// DeletionScope returns, per entity type, the file kinds whose imports may
// deactivate entities of that type by omission.
func (c *Catalog) DeletionScope() map[EntityType][]string {
	scope := make(map[EntityType][]string)
	for _, k := range c.fileKinds {
		for _, t := range k.Deletes {
			scope[t] = append(scope[t], k.ID)
		}
	}
	return scope
}

// HasEmbeddings reports whether any field carries an embedding vector.
func (c *Catalog) HasEmbeddings() bool {
	for _, f := range c.fields {
		if len(f.Embedding) > 0 {
			return true
		}
	}
	return false
}

// WithEmbeddings returns a copy of the catalog with the given vectors
// attached by field id. Fields missing from the map keep their vector.
func (c *Catalog) WithEmbeddings(vectors map[string][]float32) *Catalog {
	cp := &Catalog{
		fields:    c.Fields(),
		byID:      c.byID,
		entities:  c.entities,
		fileKinds: c.fileKinds,
	}
	for i := range cp.fields {
		if v, ok := vectors[cp.fields[i].ID]; ok {
			cp.fields[i].Embedding = v
		}
	}
	return cp
}

// EmbeddingText is the text embedded for a field: its name and synonyms.
func (f CanonicalField) EmbeddingText() string {
	var b bytes.Buffer
	b.WriteString(f.Name)
	for _, s := range f.Synonyms {
		b.WriteString(", ")
		b.WriteString(s)
	}
	return b.String()
}
