// Package store holds the core.Store implementations: an in-process
// Memory store for tests and single-shot tools, Postgres for shared
// deployments and Badger for an embedded on-disk registry. It also provides
// a Redis-backed core.CommitLock for running several servers against one
// store.
package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/registry"
)

var (
	_ core.Store = (*Memory)(nil)
	_ core.Store = (*Postgres)(nil)
	_ core.Store = (*Badger)(nil)

	_ core.CommitLock = (*RedisCommitLock)(nil)
)

func encodeSnapshot(snap registry.Snapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func decodeSnapshot(b []byte) (*registry.Snapshot, error) {
	var snap registry.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", &registry.SnapshotError{Reason: err.Error()})
	}
	return &snap, nil
}

// staleCommit reports a commit that would not move the saved version
// forward, usually because another writer committed first.
func staleCommit(version, saved int64) error {
	return fmt.Errorf("commit version %d, saved %d: %w", version, saved, ingest.ErrStaleRegistry)
}

// newestFirst orders import history by commit time, then run id, and
// applies limit.
func newestFirst(recs []core.ImportRecord, limit int) []core.ImportRecord {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CommittedAt.Equal(recs[j].CommittedAt) {
			return recs[i].CommittedAt.After(recs[j].CommittedAt)
		}
		return recs[i].ImportRunID > recs[j].ImportRunID
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
