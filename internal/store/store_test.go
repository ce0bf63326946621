package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

var refTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// testSnapshot builds a snapshot at the given version holding one station
// per key.
func testSnapshot(t *testing.T, version int64, keys ...string) registry.Snapshot {
	t.Helper()
	reg, err := registry.New().Edit(func(tx *registry.Txn) error {
		for i, k := range keys {
			if err := tx.Create(registry.EntityRecord{
				UID:        fmt.Sprintf("u%d", i),
				Key:        k,
				PlantKey:   "P1",
				EntityType: schema.Station,
				Status:     registry.StatusActive,
				CreatedAt:  refTime,
				UpdatedAt:  refTime,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg.WithVersion(version).Snapshot(refTime)
}

func record(run string, version int64, at time.Time) *core.ImportRecord {
	return &core.ImportRecord{
		ImportRunID: run,
		SourceFile:  run + ".xlsx",
		SourceType:  ingest.SourceLocal,
		PlantKey:    "P1",
		Version:     version,
		CommittedAt: at,
		Summary:     ingest.DiffSummary{Created: 1, Renamed: 1},
		Warnings:    3,
		Diff: ingest.DiffResult{
			ImportRunID: run,
			ComputedAt:  at,
			SourceFile:  run + ".xlsx",
			SourceType:  ingest.SourceLocal,
			PlantKey:    "P1",
			Creates: []ingest.DiffCreate{{
				UID: "u-new", Key: "ST300", EntityType: schema.Station, PlantKey: "P1",
				Labels: map[string]string{"line": "L3"},
			}},
			RenamesOrMoves: []ingest.DiffRenameOrMove{{
				UID: "u0", OldKey: "ST100", NewKey: "ST100A", EntityType: schema.Station, PlantKey: "P1",
				Confidence: 0.92, MatchReasons: []string{"alias"},
			}},
			Summary: ingest.DiffSummary{Created: 1, Renamed: 1},
		},
	}
}

func loadedVersion(t *testing.T, s core.Store) int64 {
	t.Helper()
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		return -1
	}
	return snap.Version
}

// runStoreTests checks the core.Store contract against one implementation.
func runStoreTests(t *testing.T, s core.Store) {
	ctx := context.Background()

	t.Run("load empty", func(t *testing.T) {
		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if snap != nil {
			t.Errorf("Load on empty store = %+v, want nil", snap)
		}
	})

	t.Run("commit and load", func(t *testing.T) {
		if err := s.Commit(ctx, testSnapshot(t, 1, "ST100"), record("run-1", 1, refTime)); err != nil {
			t.Fatal(err)
		}
		if err := s.Commit(ctx, testSnapshot(t, 2, "ST100", "ST200"), nil); err != nil {
			t.Fatal(err)
		}

		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		reg, err := registry.FromSnapshot(*snap)
		if err != nil {
			t.Fatalf("saved snapshot does not load: %v", err)
		}
		if reg.Len() != 2 || reg.Version() != 2 {
			t.Errorf("loaded %d entities at version %d, want 2 at 2", reg.Len(), reg.Version())
		}
	})

	t.Run("older version rejected", func(t *testing.T) {
		for _, v := range []int64{1, 2} {
			err := s.Commit(ctx, testSnapshot(t, v, "ST900"), record(fmt.Sprintf("late-%d", v), v, refTime))
			if !errors.Is(err, ingest.ErrStaleRegistry) {
				t.Errorf("Commit at version %d err = %v, want ErrStaleRegistry", v, err)
			}
		}
		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Version != 2 || len(snap.Entities) != 2 {
			t.Errorf("rejected commit overwrote the snapshot: version %d, %d entities", snap.Version, len(snap.Entities))
		}
		if recs, _ := s.ListImports(ctx, 0); len(recs) != 1 {
			t.Errorf("rejected commit wrote history: %d records", len(recs))
		}
	})

	t.Run("import history newest first", func(t *testing.T) {
		if err := s.Commit(ctx, testSnapshot(t, 3, "ST100"), record("run-2", 3, refTime.Add(time.Hour))); err != nil {
			t.Fatal(err)
		}
		if err := s.Commit(ctx, testSnapshot(t, 4, "ST100"), record("run-3", 4, refTime.Add(30*time.Minute))); err != nil {
			t.Fatal(err)
		}

		all, err := s.ListImports(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"run-2", "run-3", "run-1"}
		if len(all) != len(want) {
			t.Fatalf("got %d imports, want %d", len(all), len(want))
		}
		for i, w := range want {
			if all[i].ImportRunID != w {
				t.Errorf("imports[%d] = %s, want %s", i, all[i].ImportRunID, w)
			}
		}
		if all[0].Summary.Created != 1 || all[0].Warnings != 3 || all[0].SourceType != ingest.SourceLocal || all[0].Version != 3 {
			t.Errorf("record fields not preserved: %+v", all[0])
		}

		limited, err := s.ListImports(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(limited) != 1 || limited[0].ImportRunID != "run-2" {
			t.Errorf("limited = %+v", limited)
		}
	})

	t.Run("import history keeps the diff", func(t *testing.T) {
		all, err := s.ListImports(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		d := all[len(all)-1].Diff
		if d.ImportRunID != "run-1" || !d.ComputedAt.Equal(refTime) || d.Summary.Renamed != 1 {
			t.Errorf("diff header = %+v", d)
		}
		if len(d.Creates) != 1 || d.Creates[0].UID != "u-new" || d.Creates[0].Labels["line"] != "L3" {
			t.Errorf("creates = %+v", d.Creates)
		}
		if len(d.RenamesOrMoves) != 1 {
			t.Fatalf("renames = %+v", d.RenamesOrMoves)
		}
		r := d.RenamesOrMoves[0]
		if r.UID != "u0" || r.OldKey != "ST100" || r.NewKey != "ST100A" || r.Confidence != 0.92 || len(r.MatchReasons) != 1 {
			t.Errorf("rename = %+v", r)
		}
	})

	t.Run("reset", func(t *testing.T) {
		if err := s.Reset(ctx, registry.New().WithVersion(5).Snapshot(refTime)); err != nil {
			t.Fatal(err)
		}
		snap, err := s.Load(ctx)
		if err != nil || snap == nil {
			t.Fatalf("Load after Reset = %v, %v", snap, err)
		}
		if snap.Version != 5 || len(snap.Entities) != 0 {
			t.Errorf("after Reset: version %d, %d entities", snap.Version, len(snap.Entities))
		}
		imports, err := s.ListImports(ctx, 0)
		if err != nil || len(imports) != 0 {
			t.Errorf("ListImports after Reset = %v, %v", imports, err)
		}

		if err := s.Commit(ctx, testSnapshot(t, 4, "ST100"), nil); !errors.Is(err, ingest.ErrStaleRegistry) {
			t.Errorf("commit below reset version err = %v", err)
		}
		if err := s.Commit(ctx, testSnapshot(t, 6, "ST100"), nil); err != nil {
			t.Errorf("commit after reset: %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := s.Commit(cctx, testSnapshot(t, 7), nil); err == nil {
			t.Error("Commit with cancelled context should fail")
		}
		if v := loadedVersion(t, s); v != 6 {
			t.Errorf("cancelled Commit wrote version %d", v)
		}
	})
}

func TestMemory(t *testing.T) {
	runStoreTests(t, NewMemory())
}

func TestBadger(t *testing.T) {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	defer b.Close()
	runStoreTests(t, b)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBadger(BadgerConfig{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(ctx, testSnapshot(t, 1, "ST100"), record("run-1", 1, refTime)); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b, err = OpenBadger(BadgerConfig{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	snap, err := b.Load(ctx)
	if err != nil || snap == nil {
		t.Fatalf("Load after reopen = %v, %v", snap, err)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].Key != "ST100" {
		t.Errorf("entities = %+v", snap.Entities)
	}
	if err := b.Commit(ctx, testSnapshot(t, 1, "ST900"), nil); !errors.Is(err, ingest.ErrStaleRegistry) {
		t.Errorf("version check lost across reopen: %v", err)
	}
	recs, err := b.ListImports(ctx, 0)
	if err != nil || len(recs) != 1 || len(recs[0].Diff.Creates) != 1 {
		t.Errorf("history after reopen = %+v, %v", recs, err)
	}
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	if _, err := OpenBadger(BadgerConfig{}); err == nil {
		t.Error("expected error without a path")
	}
}

func TestMemoryRejectsCorruptSnapshot(t *testing.T) {
	m := NewMemory()
	m.snap = []byte("{not json")
	_, err := m.Load(context.Background())
	if !errors.Is(err, registry.ErrInvalidSnapshot) {
		t.Errorf("err = %v, want ErrInvalidSnapshot", err)
	}
}

// Postgres and Redis run only against real servers.

func TestPostgres(t *testing.T) {
	url := os.Getenv("SIMSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SIMSYNC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := OpenPool(ctx, PoolConfig{URL: url, MaxConns: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	p := NewPostgres(pool)
	if err := p.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM import_history; DELETE FROM registry_snapshot`); err != nil {
		t.Fatal(err)
	}
	runStoreTests(t, p)
}

func TestRedisCommitLock(t *testing.T) {
	addr := os.Getenv("SIMSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SIMSYNC_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	cfg := RedisConfig{Addr: addr, Key: "simsync:test:" + t.Name(), TTL: 2 * time.Second, MaxWait: 200 * time.Millisecond}
	rdb, err := NewRedisClient(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer rdb.Close()

	a := NewRedisCommitLock(rdb, cfg)
	b := NewRedisCommitLock(rdb, cfg)

	release, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := b.Acquire(ctx); !errors.Is(err, core.ErrCommitBusy) {
		t.Errorf("second Acquire err = %v, want ErrCommitBusy", err)
	}
	release()
	release()

	release, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release()
}
