package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/simsync/internal/registry"
)

// ErrStaleRegistry is returned when a plan is committed against a registry
// version other than the one it was computed from.
var ErrStaleRegistry = errors.New("registry changed since the plan was computed")

// ErrNilPlan is returned when Commit is called without a plan.
var ErrNilPlan = errors.New("commit requires a plan")

// CommitOptions controls how a plan is applied.
type CommitOptions struct {
	At time.Time

	// NewUID generates uids for created entities. Defaults to uuid.NewString.
	NewUID func() string
}

// Commit applies a plan to the registry it was computed from and returns
// the new registry value together with the diff, with uids filled in for
// creates. Either every change is applied or none is: on error the input
// registry is returned untouched. Each change appends one audit entry
// tagged with the import run id.
func Commit(reg *registry.Registry, plan *Plan, opts CommitOptions) (*registry.Registry, DiffResult, error) {
	if plan == nil {
		return reg, DiffResult{}, ErrNilPlan
	}
	if plan.BaseVersion != reg.Version() {
		return reg, DiffResult{}, fmt.Errorf("plan base %d, registry %d: %w", plan.BaseVersion, reg.Version(), ErrStaleRegistry)
	}

	newUID := opts.NewUID
	if newUID == nil {
		newUID = uuid.NewString
	}

	diff := plan.Diff
	diff.Creates = append([]DiffCreate(nil), plan.Diff.Creates...)
	runID := diff.ImportRunID
	at := opts.At

	next, err := reg.Edit(func(tx *registry.Txn) error {
		// Deactivations first so renames and creates can reuse freed keys.
		for _, del := range diff.Deletes {
			e, ok := tx.Entity(del.UID)
			if !ok {
				return fmt.Errorf("delete %s: %w", del.UID, registry.ErrEntityNotFound)
			}
			e.Status = registry.StatusInactive
			e.UpdatedAt = at
			if err := tx.Put(e); err != nil {
				return err
			}
			tx.Audit(registry.AuditEntry{
				UID: e.UID, EntityType: e.EntityType, Key: e.Key,
				Action: registry.ActionIngestDeactivate, Detail: "absent from " + diff.SourceFile,
				ImportRun: runID, Timestamp: at,
			})
		}

		for _, rn := range diff.RenamesOrMoves {
			e, ok := tx.Entity(rn.UID)
			if !ok {
				return fmt.Errorf("rename %s: %w", rn.UID, registry.ErrEntityNotFound)
			}
			e.Key = rn.NewKey
			e.Status = registry.StatusActive
			applyChanges(&e, rn.Changes)
			e.UpdatedAt = at
			if err := tx.Put(e); err != nil {
				return err
			}
			tx.Audit(registry.AuditEntry{
				UID: e.UID, EntityType: e.EntityType, Key: e.Key,
				Action: registry.ActionRename, Detail: fmt.Sprintf("%s -> %s (%.1f)", rn.OldKey, rn.NewKey, rn.Confidence),
				ImportRun: runID, Timestamp: at,
			})
		}

		for _, up := range diff.Updates {
			e, ok := tx.Entity(up.UID)
			if !ok {
				return fmt.Errorf("update %s: %w", up.UID, registry.ErrEntityNotFound)
			}
			applyChanges(&e, up.Changes)
			e.UpdatedAt = at
			if err := tx.Put(e); err != nil {
				return err
			}
			tx.Audit(registry.AuditEntry{
				UID: e.UID, EntityType: e.EntityType, Key: e.Key,
				Action: registry.ActionUpdate, Detail: changeDetail(up.Changes),
				ImportRun: runID, Timestamp: at,
			})
		}

		for i := range diff.Creates {
			cr := &diff.Creates[i]
			cr.UID = newUID()
			e := registry.EntityRecord{
				UID:        cr.UID,
				Key:        cr.Key,
				PlantKey:   cr.PlantKey,
				EntityType: cr.EntityType,
				Status:     registry.StatusActive,
				Labels:     cr.Labels,
				CreatedAt:  at,
				UpdatedAt:  at,
			}
			if err := tx.Create(e); err != nil {
				return err
			}
			tx.Audit(registry.AuditEntry{
				UID: e.UID, EntityType: e.EntityType, Key: e.Key,
				Action: registry.ActionCreate, Detail: "from " + diff.SourceFile,
				ImportRun: runID, Timestamp: at,
			})
		}
		return nil
	})
	if err != nil {
		return reg, DiffResult{}, fmt.Errorf("commit %s: %w", runID, err)
	}

	return next, diff, nil
}

func applyChanges(e *registry.EntityRecord, changes []FieldChange) {
	for _, c := range changes {
		if c.Field == StatusField {
			e.Status = registry.Status(c.New)
			continue
		}
		if e.Labels == nil {
			e.Labels = make(map[string]string)
		}
		e.Labels[c.Field] = c.New
	}
}

func changeDetail(changes []FieldChange) string {
	s := ""
	for i, c := range changes {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%s: %q -> %q", c.Field, c.Old, c.New)
	}
	return s
}
