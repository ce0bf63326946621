package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/logging"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// DefaultPlanTTL is how long a preview waits for confirmation.
const DefaultPlanTTL = 30 * time.Minute

var (
	// ErrPlanNotFound is returned for unknown, expired, cancelled or
	// already confirmed plan ids.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrUnknownField is returned when a correction names a field that is
	// not in the catalog.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidSource is returned for a batch with an unrecognised source kind.
	ErrInvalidSource = errors.New("invalid source kind")
)

// Options configures a Service. Zero values get defaults.
type Options struct {
	Catalog  *schema.Catalog
	Planner  ingest.PlannerOptions
	Store    Store
	Lock     CommitLock
	Embedder Embedder
	Metrics  *Metrics

	PlanTTL time.Duration

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

// Service owns the current registry value and runs the preview/confirm
// protocol against it. Readers never block writers for long: a commit
// builds the next registry value off to the side and swaps a pointer.
type Service struct {
	planner  *ingest.Planner
	store    Store
	lock     CommitLock
	embedder Embedder
	metrics  *Metrics
	planTTL  time.Duration
	now      func() time.Time
	newID    func() string

	mu  sync.RWMutex
	reg *registry.Registry

	plansMu sync.Mutex
	plans   map[string]*pendingPlan
}

type pendingPlan struct {
	id      string
	plan    *ingest.Plan
	created time.Time
	expires time.Time
}

// NewService creates a Service over an empty registry. Call Load to restore
// the persisted state.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("core: store is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = schema.Default()
	}
	if opts.Lock == nil {
		opts.Lock = NewLocalCommitLock(DefaultCommitWait)
	}
	if opts.PlanTTL <= 0 {
		opts.PlanTTL = DefaultPlanTTL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Service{
		planner:  ingest.NewPlanner(opts.Catalog, opts.Planner),
		store:    opts.Store,
		lock:     opts.Lock,
		embedder: opts.Embedder,
		metrics:  opts.Metrics,
		planTTL:  opts.PlanTTL,
		now:      opts.Now,
		newID:    opts.NewID,
		reg:      registry.New(),
		plans:    make(map[string]*pendingPlan),
	}, nil
}

// Load replaces the in-memory registry with the persisted snapshot, if any.
func (s *Service) Load(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		slog.Info("no saved registry, starting empty")
		return nil
	}

	reg, err := registry.FromSnapshot(*snap)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	s.swap(reg)
	slog.Info("registry loaded",
		"version", reg.Version(),
		"entities", reg.Len(),
		"saved_at", snap.SavedAt,
	)
	return nil
}

// Registry returns the current registry value. It is immutable and safe to
// read without further locking.
func (s *Service) Registry() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg
}

// Catalog returns the field catalog the service matches against.
func (s *Service) Catalog() *schema.Catalog {
	return s.planner.Catalog()
}

func (s *Service) swap(next *registry.Registry) {
	s.mu.Lock()
	s.reg = next
	s.mu.Unlock()
	s.metrics.setRegistry(next.Len(), next.Version())
}

// write runs fn against the current registry while holding the commit lock,
// persists the result and swaps it in. Nothing is swapped when fn, the
// context or the store fails.
func (s *Service) write(ctx context.Context, fn func(cur *registry.Registry) (*registry.Registry, *ImportRecord, error)) (*registry.Registry, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	next, rec, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == cur {
		return cur, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.store.Commit(ctx, next.Snapshot(s.now()), rec); err != nil {
		return nil, fmt.Errorf("persist registry: %w", err)
	}
	s.swap(next)
	return next, nil
}

// refresh returns the registry to build the next commit on. Another
// process sharing the store may have committed since this one last loaded;
// the stored snapshot then replaces the in-memory registry, and plans
// computed against the old one fail their version check. Callers hold the
// commit lock.
func (s *Service) refresh(ctx context.Context) (*registry.Registry, error) {
	cur := s.Registry()
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil || snap.Version == cur.Version() {
		return cur, nil
	}

	stored, err := registry.FromSnapshot(*snap)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	logging.FromContext(ctx).Info("registry reloaded from store",
		"version", cur.Version(),
		"stored_version", stored.Version(),
	)
	s.swap(stored)
	return stored, nil
}
