package registry

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/simsync/internal/schema"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, recs ...EntityRecord) *Registry {
	t.Helper()
	r, err := New().Edit(func(tx *Txn) error {
		for _, e := range recs {
			if err := tx.Create(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return r
}

func station(uid, key string, status Status) EntityRecord {
	return EntityRecord{
		UID:        uid,
		Key:        key,
		PlantKey:   "P1",
		EntityType: schema.Station,
		Status:     status,
		Labels:     map[string]string{"line": "L1"},
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
}

func TestEditBumpsVersionAndLeavesOriginal(t *testing.T) {
	r0 := New()
	r1 := seed(t, station("u1", "ST100", StatusActive))

	if r0.Version() != 0 || !r0.IsEmpty() {
		t.Fatalf("original registry changed: version=%d empty=%v", r0.Version(), r0.IsEmpty())
	}
	if r1.Version() != 1 {
		t.Errorf("Version = %d, want 1", r1.Version())
	}

	r2, err := r1.Deactivate("u1", "gone", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if e, _ := r1.Entity("u1"); !e.Active() {
		t.Error("older value should still see the entity as active")
	}
	if e, _ := r2.Entity("u1"); e.Active() {
		t.Error("new value should see the entity as inactive")
	}
	if r2.Version() != 2 {
		t.Errorf("Version = %d, want 2", r2.Version())
	}
}

func TestWithVersion(t *testing.T) {
	r1 := seed(t, station("u1", "ST100", StatusActive))
	r9 := r1.WithVersion(9)

	if r9.Version() != 9 || r1.Version() != 1 {
		t.Errorf("versions = %d, %d; want 9, 1", r9.Version(), r1.Version())
	}
	if _, ok := r9.Entity("u1"); !ok {
		t.Error("copy lost its entities")
	}
	if r10, _ := r9.Deactivate("u1", "", t0); r10.Version() != 10 {
		t.Errorf("edit after WithVersion = %d, want 10", r10.Version())
	}
}

func TestEditErrorReturnsReceiver(t *testing.T) {
	r1 := seed(t, station("u1", "ST100", StatusActive))
	r2, err := r1.Edit(func(tx *Txn) error {
		_ = tx.Put(EntityRecord{UID: "u1", Key: "X", PlantKey: "P1", EntityType: schema.Station, Status: StatusActive})
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if r2 != r1 {
		t.Error("failed edit should return the receiver")
	}
	if e, _ := r1.Entity("u1"); e.Key != "ST100" {
		t.Errorf("key = %q, want ST100", e.Key)
	}
}

func TestActiveKeyUniqueness(t *testing.T) {
	r := seed(t, station("u1", "ST100", StatusActive), station("u2", "ST100", StatusInactive))

	if _, err := r.Activate("u2", "", t0); !errors.Is(err, ErrKeyConflict) {
		t.Errorf("Activate err = %v, want ErrKeyConflict", err)
	}

	_, err := r.Edit(func(tx *Txn) error {
		return tx.Create(station("u3", "ST100", StatusActive))
	})
	if !errors.Is(err, ErrKeyConflict) {
		t.Errorf("Create err = %v, want ErrKeyConflict", err)
	}

	_, err = r.Edit(func(tx *Txn) error {
		return tx.Create(station("u1", "ST200", StatusActive))
	})
	if !errors.Is(err, ErrUIDExists) {
		t.Errorf("Create dup uid err = %v, want ErrUIDExists", err)
	}
}

func TestPutKeepsNamespace(t *testing.T) {
	r := seed(t, station("u1", "ST100", StatusActive))
	_, err := r.Edit(func(tx *Txn) error {
		e, _ := tx.Entity("u1")
		e.PlantKey = "P2"
		return tx.Put(e)
	})
	if err == nil {
		t.Error("expected plant change to be rejected")
	}
}

func TestManualActionsAudit(t *testing.T) {
	r := seed(t, station("u1", "ST100", StatusActive))

	r, err := r.Deactivate("u1", "decommissioned", t0)
	if err != nil {
		t.Fatal(err)
	}
	r, err = r.Activate("u1", "", t0)
	if err != nil {
		t.Fatal(err)
	}
	r, err = r.OverrideLabel("u1", "owner", "Ana", "handover", t0)
	if err != nil {
		t.Fatal(err)
	}
	r, err = r.UpsertAlias(AliasRule{OldKey: "ST-100", TargetUID: "u1", EntityType: schema.Station, PlantKey: "P1"}, t0)
	if err != nil {
		t.Fatal(err)
	}

	log := r.AuditLog()
	want := []AuditAction{ActionDeactivate, ActionActivate, ActionOverrideLabel, ActionAddAlias}
	if len(log) != len(want) {
		t.Fatalf("audit entries = %d, want %d", len(log), len(want))
	}
	for i, a := range want {
		if log[i].Action != a {
			t.Errorf("entry %d action = %s, want %s", i, log[i].Action, a)
		}
		if log[i].ID == "" || log[i].UID != "u1" {
			t.Errorf("entry %d = %+v", i, log[i])
		}
	}
	if log[0].Reason != "decommissioned" {
		t.Errorf("reason = %q", log[0].Reason)
	}

	e, _ := r.Entity("u1")
	if e.Labels["owner"] != "Ana" {
		t.Errorf("owner label = %q", e.Labels["owner"])
	}

	if _, err := r.Activate("missing", "", t0); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Activate missing err = %v", err)
	}
}

func TestUpsertAliasIsIdempotent(t *testing.T) {
	r := seed(t,
		station("u1", "ST100", StatusActive),
		station("u2", "ST200", StatusActive),
		EntityRecord{UID: "r1", Key: "RB01", PlantKey: "P1", EntityType: schema.Robot, Status: StatusActive},
	)

	a := AliasRule{OldKey: "OLD", TargetUID: "u1", EntityType: schema.Station, PlantKey: "P1"}
	r, _ = r.UpsertAlias(a, t0)
	a.TargetUID = "u2"
	r, err := r.UpsertAlias(a, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if got := r.Aliases(); len(got) != 1 || got[0].TargetUID != "u2" || !got[0].CreatedAt.Equal(t0) {
		t.Errorf("aliases = %+v", got)
	}

	bad := AliasRule{OldKey: "X", TargetUID: "r1", EntityType: schema.Station, PlantKey: "P1"}
	if _, err := r.UpsertAlias(bad, t0); !errors.Is(err, ErrAliasTarget) {
		t.Errorf("cross-namespace alias err = %v, want ErrAliasTarget", err)
	}
}

func TestOverridesUpsert(t *testing.T) {
	r := New()
	o := MappingOverride{WorkbookID: "wb", SheetName: "S", ColumnIndex: 2, OriginalHeader: "Nr", FieldID: "robot"}
	r, _ = r.UpsertOverride(o, t0)
	o.FieldID = "tool"
	r, _ = r.UpsertOverride(o, t0.Add(time.Minute))

	got := r.Overrides()
	if len(got) != 1 || got[0].FieldID != "tool" {
		t.Fatalf("overrides = %+v", got)
	}
	if !got[0].CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want first upsert time", got[0].CreatedAt)
	}

	v := r.Version()
	r, _ = r.RemoveOverride(ColumnKey{WorkbookID: "wb", SheetName: "S", ColumnIndex: 2})
	if len(r.Overrides()) != 0 || r.Version() != v+1 {
		t.Errorf("remove: overrides=%d version=%d", len(r.Overrides()), r.Version())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := seed(t, station("u1", "ST100", StatusActive), station("u2", "ST200", StatusInactive))
	r, _ = r.UpsertAlias(AliasRule{OldKey: "OLD", TargetUID: "u1", EntityType: schema.Station, PlantKey: "P1"}, t0)
	r, _ = r.UpsertOverride(MappingOverride{WorkbookID: "wb", ColumnIndex: 0, FieldID: "station"}, t0)

	data, err := r.MarshalSnapshot(t0)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeSnapshot(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	if back.Version() != r.Version() || back.Len() != 2 || len(back.Aliases()) != 1 ||
		len(back.AuditLog()) != 1 || len(back.Overrides()) != 1 {
		t.Errorf("round trip lost state: version=%d entities=%d aliases=%d audit=%d overrides=%d",
			back.Version(), back.Len(), len(back.Aliases()), len(back.AuditLog()), len(back.Overrides()))
	}
}

func TestSnapshotRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not json", `{`, "decode"},
		{"wrong schema version", `{"schemaVersion":7,"entities":[],"aliases":[],"auditLog":[]}`, "schemaVersion"},
		{"missing entities", `{"schemaVersion":1,"aliases":[],"auditLog":[]}`, "Entities"},
		{"missing audit log", `{"schemaVersion":1,"entities":[],"aliases":[]}`, "AuditLog"},
		{"bad status", `{"schemaVersion":1,"entities":[{"uid":"u1","key":"A","entityType":"station","status":"gone"}],"aliases":[],"auditLog":[]}`, "Status"},
		{"duplicate uid", `{"schemaVersion":1,"entities":[
			{"uid":"u1","key":"A","entityType":"station","status":"active"},
			{"uid":"u1","key":"B","entityType":"station","status":"active"}],"aliases":[],"auditLog":[]}`, "duplicate uid"},
		{"duplicate active key", `{"schemaVersion":1,"entities":[
			{"uid":"u1","key":"A","entityType":"station","status":"active"},
			{"uid":"u2","key":"A","entityType":"station","status":"active"}],"aliases":[],"auditLog":[]}`, "active key"},
		{"dangling alias", `{"schemaVersion":1,"entities":[],"aliases":[
			{"oldKey":"A","targetUid":"u9","entityType":"station"}],"auditLog":[]}`, "unknown uid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(strings.NewReader(tt.doc))
			if !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("err = %v, want ErrInvalidSnapshot", err)
			}
			var se *SnapshotError
			if !errors.As(err, &se) {
				t.Fatalf("err is not *SnapshotError: %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}
