package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/JonMunkholm/simsync/internal/logging"
	"github.com/JonMunkholm/simsync/internal/match"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// Manual corrections. Each one takes the commit lock, builds the next
// registry value, persists it and swaps it in. Every entity-level action
// writes exactly one audit entry. A correction bumps the registry version,
// so previews computed before it become stale.

func (s *Service) correct(ctx context.Context, action string, fn func(cur *registry.Registry) (*registry.Registry, error)) (*registry.Registry, error) {
	next, err := s.write(ctx, func(cur *registry.Registry) (*registry.Registry, *ImportRecord, error) {
		next, err := fn(cur)
		return next, nil, err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.observeManual(action)
	attrs := append([]any{"action", action, "version", next.Version()}, requestAttrs(ctx)...)
	logging.FromContext(ctx).Info("registry corrected", attrs...)
	return next, nil
}

// AddAlias binds oldKey to an existing entity. Upserting the same
// (oldKey, type, plant) replaces the previous rule.
func (s *Service) AddAlias(ctx context.Context, a registry.AliasRule) (registry.AliasRule, error) {
	a.OldKey = match.NormalizeKey(a.OldKey)
	a.PlantKey = match.NormalizeKey(a.PlantKey)
	if a.OldKey == "" {
		return registry.AliasRule{}, fmt.Errorf("add alias: old key is required")
	}
	if _, ok := s.Catalog().EntitySpec(a.EntityType); !ok {
		return registry.AliasRule{}, fmt.Errorf("add alias: entity type %q: %w", a.EntityType, ErrUnknownField)
	}

	next, err := s.correct(ctx, "addAlias", func(cur *registry.Registry) (*registry.Registry, error) {
		return cur.UpsertAlias(a, s.now())
	})
	if err != nil {
		return registry.AliasRule{}, fmt.Errorf("add alias %s: %w", a.OldKey, err)
	}
	saved, _ := next.Alias(registry.Namespace{PlantKey: a.PlantKey, EntityType: a.EntityType}, a.OldKey)
	return saved, nil
}

// Activate marks an entity active.
func (s *Service) Activate(ctx context.Context, uid, reason string) (registry.EntityRecord, error) {
	return s.entityAction(ctx, "activate", uid, func(cur *registry.Registry) (*registry.Registry, error) {
		return cur.Activate(uid, reason, s.now())
	})
}

// Deactivate marks an entity inactive. Entities are never removed.
func (s *Service) Deactivate(ctx context.Context, uid, reason string) (registry.EntityRecord, error) {
	return s.entityAction(ctx, "deactivate", uid, func(cur *registry.Registry) (*registry.Registry, error) {
		return cur.Deactivate(uid, reason, s.now())
	})
}

// OverrideLabel sets one label on an entity; an empty value removes it.
func (s *Service) OverrideLabel(ctx context.Context, uid, field, value, reason string) (registry.EntityRecord, error) {
	if _, ok := s.Catalog().Field(field); !ok {
		return registry.EntityRecord{}, fmt.Errorf("override label %s: %q: %w", uid, field, ErrUnknownField)
	}
	return s.entityAction(ctx, "overrideLabel", uid, func(cur *registry.Registry) (*registry.Registry, error) {
		return cur.OverrideLabel(uid, field, value, reason, s.now())
	})
}

func (s *Service) entityAction(ctx context.Context, action, uid string, fn func(cur *registry.Registry) (*registry.Registry, error)) (registry.EntityRecord, error) {
	next, err := s.correct(ctx, action, fn)
	if err != nil {
		return registry.EntityRecord{}, fmt.Errorf("%s %s: %w", action, uid, err)
	}
	e, _ := next.Entity(uid)
	return e, nil
}

// SetMappingOverride pins a sheet column to a canonical field for all
// future imports of that workbook.
func (s *Service) SetMappingOverride(ctx context.Context, o registry.MappingOverride) (registry.MappingOverride, error) {
	if _, ok := s.Catalog().Field(o.FieldID); !ok {
		return registry.MappingOverride{}, fmt.Errorf("set override: %q: %w", o.FieldID, ErrUnknownField)
	}
	if o.WorkbookID == "" || o.ColumnIndex < 0 {
		return registry.MappingOverride{}, fmt.Errorf("set override: workbook id and column index are required")
	}

	next, err := s.correct(ctx, "setOverride", func(cur *registry.Registry) (*registry.Registry, error) {
		return cur.UpsertOverride(o, s.now())
	})
	if err != nil {
		return registry.MappingOverride{}, fmt.Errorf("set override: %w", err)
	}
	saved, _ := next.Override(registry.ColumnKey{WorkbookID: o.WorkbookID, SheetName: o.SheetName, ColumnIndex: o.ColumnIndex})
	return saved, nil
}

// RemoveMappingOverride deletes an override. Removing a missing override
// is not an error.
func (s *Service) RemoveMappingOverride(ctx context.Context, k registry.ColumnKey) error {
	_, err := s.correct(ctx, "removeOverride", func(cur *registry.Registry) (*registry.Registry, error) {
		return cur.RemoveOverride(k)
	})
	if err != nil {
		return fmt.Errorf("remove override: %w", err)
	}
	return nil
}

// EntityFilter narrows Entities. Empty fields match everything.
type EntityFilter struct {
	PlantKey   string
	EntityType schema.EntityType
	Status     registry.Status
}

// Entities lists entities of the current registry.
func (s *Service) Entities(f EntityFilter) []registry.EntityRecord {
	all := s.Registry().Entities()
	out := make([]registry.EntityRecord, 0, len(all))
	for _, e := range all {
		if f.PlantKey != "" && e.PlantKey != f.PlantKey {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Aliases lists all alias rules.
func (s *Service) Aliases() []registry.AliasRule {
	return s.Registry().Aliases()
}

// MappingOverrides lists all mapping overrides.
func (s *Service) MappingOverrides() []registry.MappingOverride {
	return s.Registry().Overrides()
}

// AuditFilter narrows AuditLog. Empty fields match everything.
type AuditFilter struct {
	UID         string
	Action      registry.AuditAction
	ImportRunID string
	Limit       int
}

// AuditLog returns audit entries, newest first.
func (s *Service) AuditLog(f AuditFilter) []registry.AuditEntry {
	all := s.Registry().AuditLog()
	out := make([]registry.AuditEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if f.UID != "" && e.UID != f.UID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.ImportRunID != "" && e.ImportRun != f.ImportRunID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// ListImports returns committed import history, newest first.
func (s *Service) ListImports(ctx context.Context, limit int) ([]ImportRecord, error) {
	recs, err := s.store.ListImports(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	return recs, nil
}
