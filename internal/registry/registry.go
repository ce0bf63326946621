package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEntityNotFound is returned when a uid is not in the registry.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrKeyConflict is returned when a change would give two active
	// entities the same key in one namespace.
	ErrKeyConflict = errors.New("key already used by an active entity")

	// ErrAliasTarget is returned when an alias points at an entity of a
	// different namespace or at a uid that does not exist.
	ErrAliasTarget = errors.New("alias target does not match namespace")

	// ErrUIDExists is returned when a transaction tries to create a uid
	// that is already taken.
	ErrUIDExists = errors.New("uid already exists")
)

// Registry is an immutable registry value. The zero value is not usable;
// start from [New] or [FromSnapshot].
type Registry struct {
	version   int64
	entities  map[string]EntityRecord
	aliases   map[aliasKey]AliasRule
	overrides map[ColumnKey]MappingOverride
	audit     []AuditEntry
}

// New returns an empty registry at version 0.
func New() *Registry {
	return &Registry{
		entities:  make(map[string]EntityRecord),
		aliases:   make(map[aliasKey]AliasRule),
		overrides: make(map[ColumnKey]MappingOverride),
	}
}

// Version is the registry's monotonic version token. Every successful
// Edit returns a registry with Version()+1.
func (r *Registry) Version() int64 { return r.version }

// IsEmpty reports whether the registry holds no entities at all.
func (r *Registry) IsEmpty() bool { return len(r.entities) == 0 }

// Len returns the number of entities, active or not.
func (r *Registry) Len() int { return len(r.entities) }

// Entity returns the entity with the given uid.
func (r *Registry) Entity(uid string) (EntityRecord, bool) {
	e, ok := r.entities[uid]
	if !ok {
		return EntityRecord{}, false
	}
	return e.clone(), true
}

// Entities returns all entities sorted by plant, type, key, uid.
func (r *Registry) Entities() []EntityRecord {
	out := make([]EntityRecord, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.clone())
	}
	sortEntities(out)
	return out
}

// InNamespace returns every entity of a namespace, active or not, sorted by uid.
func (r *Registry) InNamespace(ns Namespace) []EntityRecord {
	var out []EntityRecord
	for _, e := range r.entities {
		if e.Namespace() == ns {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// ActiveByKey finds the active entity holding key in a namespace.
func (r *Registry) ActiveByKey(ns Namespace, key string) (EntityRecord, bool) {
	for _, e := range r.entities {
		if e.Active() && e.Key == key && e.Namespace() == ns {
			return e.clone(), true
		}
	}
	return EntityRecord{}, false
}

// Alias looks up an alias rule by namespace and old key.
func (r *Registry) Alias(ns Namespace, oldKey string) (AliasRule, bool) {
	a, ok := r.aliases[aliasKey{ns: ns, oldKey: oldKey}]
	return a, ok
}

// Aliases returns all alias rules sorted by plant, type, old key.
func (r *Registry) Aliases() []AliasRule {
	out := make([]AliasRule, 0, len(r.aliases))
	for _, a := range r.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlantKey != out[j].PlantKey {
			return out[i].PlantKey < out[j].PlantKey
		}
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].OldKey < out[j].OldKey
	})
	return out
}

// Override returns the mapping override for one column.
func (r *Registry) Override(k ColumnKey) (MappingOverride, bool) {
	o, ok := r.overrides[k]
	return o, ok
}

// Overrides returns all mapping overrides sorted by column key.
func (r *Registry) Overrides() []MappingOverride {
	out := make([]MappingOverride, 0, len(r.overrides))
	for _, o := range r.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.WorkbookID != b.WorkbookID {
			return a.WorkbookID < b.WorkbookID
		}
		if a.SheetName != b.SheetName {
			return a.SheetName < b.SheetName
		}
		return a.ColumnIndex < b.ColumnIndex
	})
	return out
}

// AuditLog returns a copy of the audit log in append order.
func (r *Registry) AuditLog() []AuditEntry {
	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

// Edit applies fn to a private copy of the registry. If fn returns an
// error the receiver is returned unchanged together with the error;
// otherwise the copy is returned with the version incremented.
func (r *Registry) Edit(fn func(tx *Txn) error) (*Registry, error) {
	tx := &Txn{next: r.copy()}
	if err := fn(tx); err != nil {
		return r, err
	}
	tx.next.version = r.version + 1
	return tx.next, nil
}

// WithVersion returns a copy of r at version v. It is used when a whole
// registry is installed, so the version token never moves backwards.
func (r *Registry) WithVersion(v int64) *Registry {
	cp := r.copy()
	cp.version = v
	return cp
}

func (r *Registry) copy() *Registry {
	cp := &Registry{
		version:   r.version,
		entities:  make(map[string]EntityRecord, len(r.entities)),
		aliases:   make(map[aliasKey]AliasRule, len(r.aliases)),
		overrides: make(map[ColumnKey]MappingOverride, len(r.overrides)),
		audit:     make([]AuditEntry, len(r.audit), len(r.audit)+8),
	}
	for k, v := range r.entities {
		cp.entities[k] = v
	}
	for k, v := range r.aliases {
		cp.aliases[k] = v
	}
	for k, v := range r.overrides {
		cp.overrides[k] = v
	}
	copy(cp.audit, r.audit)
	return cp
}

// Txn is the mutable view handed to Edit callbacks. It is only valid
// inside the callback.
type Txn struct {
	next *Registry
}

// Entity reads an entity as currently staged in the transaction.
func (tx *Txn) Entity(uid string) (EntityRecord, bool) {
	return tx.next.Entity(uid)
}

// Create inserts a new entity. The uid must be unused and, if the entity
// is active, its key must be free in its namespace.
func (tx *Txn) Create(e EntityRecord) error {
	if _, exists := tx.next.entities[e.UID]; exists {
		return fmt.Errorf("create %s: %w", e.UID, ErrUIDExists)
	}
	if e.Active() {
		if other, taken := tx.next.ActiveByKey(e.Namespace(), e.Key); taken {
			return fmt.Errorf("create %q in %s (held by %s): %w", e.Key, e.Namespace(), other.UID, ErrKeyConflict)
		}
	}
	tx.next.entities[e.UID] = e.clone()
	return nil
}

// Put replaces an existing entity. UID, type and plant are fixed at
// creation; Put rejects any attempt to change them.
func (tx *Txn) Put(e EntityRecord) error {
	prev, ok := tx.next.entities[e.UID]
	if !ok {
		return fmt.Errorf("put %s: %w", e.UID, ErrEntityNotFound)
	}
	if prev.EntityType != e.EntityType || prev.PlantKey != e.PlantKey {
		return fmt.Errorf("put %s: entity type and plant are immutable", e.UID)
	}
	if e.Active() {
		if other, taken := tx.next.ActiveByKey(e.Namespace(), e.Key); taken && other.UID != e.UID {
			return fmt.Errorf("key %q in %s (held by %s): %w", e.Key, e.Namespace(), other.UID, ErrKeyConflict)
		}
	}
	tx.next.entities[e.UID] = e.clone()
	return nil
}

// PutAlias upserts an alias rule. The target must exist in the rule's namespace.
func (tx *Txn) PutAlias(a AliasRule) error {
	target, ok := tx.next.entities[a.TargetUID]
	if !ok {
		return fmt.Errorf("alias %q -> %s: %w", a.OldKey, a.TargetUID, ErrEntityNotFound)
	}
	if target.EntityType != a.EntityType || target.PlantKey != a.PlantKey {
		return fmt.Errorf("alias %q -> %s: %w", a.OldKey, a.TargetUID, ErrAliasTarget)
	}
	if prev, exists := tx.next.aliases[a.key()]; exists && !prev.CreatedAt.IsZero() {
		a.CreatedAt = prev.CreatedAt
	}
	tx.next.aliases[a.key()] = a
	return nil
}

// PutOverride upserts a mapping override.
func (tx *Txn) PutOverride(o MappingOverride) {
	if prev, exists := tx.next.overrides[o.key()]; exists && !prev.CreatedAt.IsZero() {
		o.CreatedAt = prev.CreatedAt
	}
	tx.next.overrides[o.key()] = o
}

// DeleteOverride removes a mapping override. Missing keys are ignored.
func (tx *Txn) DeleteOverride(k ColumnKey) {
	delete(tx.next.overrides, k)
}

// Audit appends an audit entry, filling in a fresh id when empty.
func (tx *Txn) Audit(e AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tx.next.audit = append(tx.next.audit, e)
}

// Activate marks an entity active and records one audit entry.
func (r *Registry) Activate(uid, reason string, at time.Time) (*Registry, error) {
	return r.setStatus(uid, StatusActive, ActionActivate, reason, at)
}

// Deactivate marks an entity inactive and records one audit entry.
// Entities are never removed.
func (r *Registry) Deactivate(uid, reason string, at time.Time) (*Registry, error) {
	return r.setStatus(uid, StatusInactive, ActionDeactivate, reason, at)
}

func (r *Registry) setStatus(uid string, status Status, action AuditAction, reason string, at time.Time) (*Registry, error) {
	return r.Edit(func(tx *Txn) error {
		e, ok := tx.Entity(uid)
		if !ok {
			return fmt.Errorf("%s %s: %w", action, uid, ErrEntityNotFound)
		}
		e.Status = status
		e.UpdatedAt = at
		if err := tx.Put(e); err != nil {
			return err
		}
		tx.Audit(AuditEntry{
			UID:        e.UID,
			EntityType: e.EntityType,
			Key:        e.Key,
			Action:     action,
			Reason:     reason,
			Timestamp:  at,
		})
		return nil
	})
}

// UpsertAlias adds or replaces an alias rule and records one audit entry.
func (r *Registry) UpsertAlias(a AliasRule, at time.Time) (*Registry, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = at
	}
	return r.Edit(func(tx *Txn) error {
		if err := tx.PutAlias(a); err != nil {
			return err
		}
		target, _ := tx.Entity(a.TargetUID)
		tx.Audit(AuditEntry{
			UID:        a.TargetUID,
			EntityType: a.EntityType,
			Key:        target.Key,
			Action:     ActionAddAlias,
			Reason:     a.Reason,
			Detail:     fmt.Sprintf("alias %q", a.OldKey),
			Timestamp:  at,
		})
		return nil
	})
}

// OverrideLabel sets (or clears, when value is empty) one label on an
// entity and records one audit entry.
func (r *Registry) OverrideLabel(uid, field, value, reason string, at time.Time) (*Registry, error) {
	return r.Edit(func(tx *Txn) error {
		e, ok := tx.Entity(uid)
		if !ok {
			return fmt.Errorf("override label %s: %w", uid, ErrEntityNotFound)
		}
		old := e.Labels[field]
		if e.Labels == nil {
			e.Labels = make(map[string]string)
		}
		if value == "" {
			delete(e.Labels, field)
		} else {
			e.Labels[field] = value
		}
		e.UpdatedAt = at
		if err := tx.Put(e); err != nil {
			return err
		}
		tx.Audit(AuditEntry{
			UID:        e.UID,
			EntityType: e.EntityType,
			Key:        e.Key,
			Action:     ActionOverrideLabel,
			Reason:     reason,
			Detail:     fmt.Sprintf("%s: %q -> %q", field, old, value),
			Timestamp:  at,
		})
		return nil
	})
}

// UpsertOverride adds or replaces a mapping override.
func (r *Registry) UpsertOverride(o MappingOverride, at time.Time) (*Registry, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = at
	}
	return r.Edit(func(tx *Txn) error {
		tx.PutOverride(o)
		return nil
	})
}

// RemoveOverride deletes a mapping override.
func (r *Registry) RemoveOverride(k ColumnKey) (*Registry, error) {
	if _, ok := r.overrides[k]; !ok {
		return r, nil
	}
	return r.Edit(func(tx *Txn) error {
		tx.DeleteOverride(k)
		return nil
	})
}

func sortEntities(es []EntityRecord) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if a.PlantKey != b.PlantKey {
			return a.PlantKey < b.PlantKey
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.UID < b.UID
	})
}
