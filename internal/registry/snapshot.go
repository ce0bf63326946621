package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
)

// SchemaVersion is the snapshot document version written by this package.
const SchemaVersion = 1

// ErrInvalidSnapshot is wrapped by every snapshot validation failure.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// SnapshotError describes why a snapshot was rejected.
type SnapshotError struct {
	Field  string
	Reason string
}

func (e *SnapshotError) Error() string {
	if e.Field == "" {
		return "invalid snapshot: " + e.Reason
	}
	return fmt.Sprintf("invalid snapshot: %s: %s", e.Field, e.Reason)
}

func (e *SnapshotError) Unwrap() error { return ErrInvalidSnapshot }

// Snapshot is the persisted registry document. Entities, Aliases and
// AuditLog must be present (possibly empty) for the document to load.
type Snapshot struct {
	SchemaVersion int               `json:"schemaVersion" validate:"required"`
	Version       int64             `json:"version" validate:"gte=0"`
	SavedAt       time.Time         `json:"savedAt"`
	Entities      []EntityRecord    `json:"entities" validate:"required,dive"`
	Aliases       []AliasRule       `json:"aliases" validate:"required,dive"`
	AuditLog      []AuditEntry      `json:"auditLog" validate:"required,dive"`
	Overrides     []MappingOverride `json:"overrides,omitempty" validate:"omitempty,dive"`
}

// Snapshot captures the registry as a document.
func (r *Registry) Snapshot(at time.Time) Snapshot {
	return Snapshot{
		SchemaVersion: SchemaVersion,
		Version:       r.version,
		SavedAt:       at,
		Entities:      r.Entities(),
		Aliases:       r.Aliases(),
		AuditLog:      r.AuditLog(),
		Overrides:     r.Overrides(),
	}
}

var snapshotValidate = validator.New()

// FromSnapshot rebuilds a registry from a document. It checks the schema
// version, required arrays, uid uniqueness, active key uniqueness and alias
// targets. Any failure is a *SnapshotError.
func FromSnapshot(s Snapshot) (*Registry, error) {
	if s.SchemaVersion != SchemaVersion {
		return nil, &SnapshotError{
			Field:  "schemaVersion",
			Reason: fmt.Sprintf("unsupported version %d (want %d)", s.SchemaVersion, SchemaVersion),
		}
	}

	if err := snapshotValidate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &SnapshotError{Field: fe.Namespace(), Reason: "failed " + fe.Tag()}
		}
		return nil, &SnapshotError{Reason: err.Error()}
	}

	r := New()
	r.version = s.Version

	activeKeys := make(map[aliasKey]string)
	for i, e := range s.Entities {
		if _, dup := r.entities[e.UID]; dup {
			return nil, &SnapshotError{
				Field:  fmt.Sprintf("entities[%d].uid", i),
				Reason: fmt.Sprintf("duplicate uid %s", e.UID),
			}
		}
		if e.Active() {
			k := aliasKey{ns: e.Namespace(), oldKey: e.Key}
			if other, taken := activeKeys[k]; taken {
				return nil, &SnapshotError{
					Field:  fmt.Sprintf("entities[%d].key", i),
					Reason: fmt.Sprintf("active key %q in %s shared with %s", e.Key, e.Namespace(), other),
				}
			}
			activeKeys[k] = e.UID
		}
		r.entities[e.UID] = e.clone()
	}

	for i, a := range s.Aliases {
		target, ok := r.entities[a.TargetUID]
		if !ok {
			return nil, &SnapshotError{
				Field:  fmt.Sprintf("aliases[%d].targetUid", i),
				Reason: fmt.Sprintf("unknown uid %s", a.TargetUID),
			}
		}
		if target.EntityType != a.EntityType || target.PlantKey != a.PlantKey {
			return nil, &SnapshotError{
				Field:  fmt.Sprintf("aliases[%d]", i),
				Reason: "target is in a different namespace",
			}
		}
		r.aliases[a.key()] = a
	}

	for _, o := range s.Overrides {
		r.overrides[o.key()] = o
	}

	r.audit = append(r.audit, s.AuditLog...)
	return r, nil
}

// DecodeSnapshot reads a JSON snapshot document and rebuilds the registry.
// A payload that is not valid JSON is also reported as a *SnapshotError.
func DecodeSnapshot(rd io.Reader) (*Registry, error) {
	var s Snapshot
	if err := json.NewDecoder(rd).Decode(&s); err != nil {
		return nil, &SnapshotError{Reason: "decode: " + err.Error()}
	}
	return FromSnapshot(s)
}

// MarshalSnapshot encodes the registry as an indented JSON document.
func (r *Registry) MarshalSnapshot(at time.Time) ([]byte, error) {
	return json.MarshalIndent(r.Snapshot(at), "", "  ")
}
