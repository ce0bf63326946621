// Package registry holds the entity registry: the long-lived identities
// built from imports, the alias and mapping-override tables that steer
// matching, and the append-only audit log.
//
// A *Registry is an immutable value. Every change goes through [Registry.Edit],
// which works on a private copy and returns a new value with the next
// version number, so readers holding an older value are never affected.
package registry

import (
	"time"

	"github.com/JonMunkholm/simsync/internal/schema"
)

// Status is the activation state of an entity.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// EntityRecord is one tracked station, robot, or tool.
// UID is assigned once and never changes; Key may change through renames.
type EntityRecord struct {
	UID        string            `json:"uid" validate:"required"`
	Key        string            `json:"key" validate:"required"`
	PlantKey   string            `json:"plantKey"`
	EntityType schema.EntityType `json:"entityType" validate:"required"`
	Status     Status            `json:"status" validate:"oneof=active inactive"`
	Labels     map[string]string `json:"labels"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Active reports whether the entity is active.
func (e EntityRecord) Active() bool { return e.Status == StatusActive }

// Namespace returns the (plant, type) partition the entity lives in.
func (e EntityRecord) Namespace() Namespace {
	return Namespace{PlantKey: e.PlantKey, EntityType: e.EntityType}
}

// clone returns a copy whose Labels map is not shared.
func (e EntityRecord) clone() EntityRecord {
	if e.Labels != nil {
		labels := make(map[string]string, len(e.Labels))
		for k, v := range e.Labels {
			labels[k] = v
		}
		e.Labels = labels
	}
	return e
}

// Namespace partitions keys: keys are unique among active entities of the
// same plant and entity type.
type Namespace struct {
	PlantKey   string            `json:"plantKey"`
	EntityType schema.EntityType `json:"entityType"`
}

func (n Namespace) String() string {
	return n.PlantKey + "/" + string(n.EntityType)
}

// AliasRule binds a historical or alternate key to an existing uid.
// Unique per (OldKey, EntityType, PlantKey).
type AliasRule struct {
	OldKey     string            `json:"oldKey" validate:"required"`
	TargetUID  string            `json:"targetUid" validate:"required"`
	EntityType schema.EntityType `json:"entityType" validate:"required"`
	PlantKey   string            `json:"plantKey"`
	Reason     string            `json:"reason,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func (a AliasRule) key() aliasKey {
	return aliasKey{ns: Namespace{PlantKey: a.PlantKey, EntityType: a.EntityType}, oldKey: a.OldKey}
}

type aliasKey struct {
	ns     Namespace
	oldKey string
}

// MappingOverride pins one sheet column to a canonical field.
// Unique per (WorkbookID, SheetName, ColumnIndex).
type MappingOverride struct {
	WorkbookID     string    `json:"workbookId" validate:"required"`
	SheetName      string    `json:"sheetName"`
	ColumnIndex    int       `json:"columnIndex" validate:"gte=0"`
	OriginalHeader string    `json:"originalHeader"`
	FieldID        string    `json:"fieldId" validate:"required"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ColumnKey identifies a column across imports.
type ColumnKey struct {
	WorkbookID  string
	SheetName   string
	ColumnIndex int
}

func (o MappingOverride) key() ColumnKey {
	return ColumnKey{WorkbookID: o.WorkbookID, SheetName: o.SheetName, ColumnIndex: o.ColumnIndex}
}

// AuditAction is the kind of change recorded in the audit log.
type AuditAction string

const (
	// Manual corrections
	ActionActivate      AuditAction = "activate"
	ActionDeactivate    AuditAction = "deactivate"
	ActionAddAlias      AuditAction = "addAlias"
	ActionOverrideLabel AuditAction = "overrideLabel"

	// Recorded by ingestion commits
	ActionCreate           AuditAction = "create"
	ActionUpdate           AuditAction = "update"
	ActionRename           AuditAction = "rename"
	ActionIngestDeactivate AuditAction = "ingestDeactivate"
)

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID         string            `json:"id" validate:"required"`
	UID        string            `json:"uid" validate:"required"`
	EntityType schema.EntityType `json:"entityType"`
	Key        string            `json:"key"`
	Action     AuditAction       `json:"action" validate:"required"`
	Reason     string            `json:"reason,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	ImportRun  string            `json:"importRunId,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
