package store

import (
	"context"
	"sync"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/registry"
)

// Memory keeps the snapshot in process. The snapshot is stored encoded so
// callers cannot mutate what was saved.
type Memory struct {
	mu      sync.RWMutex
	snap    []byte
	version int64
	imports []core.ImportRecord
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (*registry.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return nil, nil
	}
	return decodeSnapshot(m.snap)
}

func (m *Memory) Commit(ctx context.Context, snap registry.Snapshot, rec *core.ImportRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap != nil && snap.Version <= m.version {
		return staleCommit(snap.Version, m.version)
	}
	m.snap, m.version = b, snap.Version
	if rec != nil {
		m.imports = append(m.imports, *rec)
	}
	return nil
}

func (m *Memory) Reset(ctx context.Context, snap registry.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap, m.version = b, snap.Version
	m.imports = nil
	return nil
}

func (m *Memory) ListImports(ctx context.Context, limit int) ([]core.ImportRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]core.ImportRecord, len(m.imports))
	copy(out, m.imports)
	m.mu.RUnlock()
	return newestFirst(out, limit), nil
}
