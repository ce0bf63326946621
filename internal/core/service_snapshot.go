package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JonMunkholm/simsync/internal/logging"
	"github.com/JonMunkholm/simsync/internal/registry"
)

// ExportSnapshot writes the current registry as a JSON snapshot document.
func (s *Service) ExportSnapshot(ctx context.Context, w io.Writer) error {
	snap := s.Registry().Snapshot(s.now())
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}
	logging.FromContext(ctx).Info("snapshot exported", "version", snap.Version, "entities", len(snap.Entities))
	return nil
}

// ImportSnapshot validates a snapshot document and, only if it is valid,
// replaces the whole registry with it. The installed registry takes a
// version above both the current one and the document's, so plans computed
// before the import can never pass their version check. Pending plans are
// dropped while the commit lock is still held.
func (s *Service) ImportSnapshot(ctx context.Context, r io.Reader) (*registry.Registry, error) {
	loaded, err := registry.DecodeSnapshot(r)
	if err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}

	next, err := s.write(ctx, func(cur *registry.Registry) (*registry.Registry, *ImportRecord, error) {
		s.dropPlans()
		return loaded.WithVersion(max(cur.Version(), loaded.Version()) + 1), nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}

	attrs := append([]any{
		"version", next.Version(),
		"document_version", loaded.Version(),
		"entities", next.Len(),
	}, requestAttrs(ctx)...)
	logging.FromContext(ctx).Info("snapshot imported", attrs...)
	return next, nil
}

// Wipe clears the registry, aliases, overrides, audit log and import
// history. It is the only way to clear the audit log. The empty registry
// continues the version sequence.
func (s *Service) Wipe(ctx context.Context) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	defer release()

	cur, err := s.refresh(ctx)
	if err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	empty := registry.New().WithVersion(cur.Version() + 1)
	if err := s.store.Reset(ctx, empty.Snapshot(s.now())); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	s.dropPlans()
	s.swap(empty)

	attrs := append([]any{"version", empty.Version()}, requestAttrs(ctx)...)
	logging.FromContext(ctx).Warn("registry wiped", attrs...)
	return nil
}
