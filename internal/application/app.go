// Package application wires configuration into a running Service: it picks
// the store, the commit lock and the embedding provider, and restores the
// persisted registry. Both the HTTP server and the CLI start from here.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/JonMunkholm/simsync/internal/config"
	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/embedding"
	"github.com/JonMunkholm/simsync/internal/schema"
	"github.com/JonMunkholm/simsync/internal/store"
)

// App is a loaded Service plus the resources it holds open.
type App struct {
	Service *core.Service
	Metrics *core.Metrics
	Catalog *schema.Catalog

	// Lock is set when the in-process commit lock is used, so shutdown
	// can wait for an in-flight commit.
	Lock *core.LocalCommitLock

	closers []func() error
}

// Options adjusts Open for callers that do not serve HTTP.
type Options struct {
	// WithMetrics registers Prometheus collectors.
	WithMetrics bool
}

// Open builds the App described by cfg. Close must be called on success.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	catalog, err := loadCatalog(cfg.Ingest.CatalogPath)
	if err != nil {
		return nil, err
	}

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	lock, err := a.openLock(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if opts.WithMetrics {
		a.Metrics = core.NewMetrics()
	}

	embedder, catalog := openEmbedder(ctx, cfg, catalog)
	a.Catalog = catalog

	svc, err := core.NewService(core.Options{
		Catalog:  catalog,
		Planner:  cfg.Ingest.PlannerOptions(),
		Store:    st,
		Lock:     lock,
		Embedder: embedder,
		Metrics:  a.Metrics,
		PlanTTL:  cfg.Ingest.PlanTTL,
	})
	if err != nil {
		return nil, err
	}
	if err := svc.Load(ctx); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	a.Service = svc

	reg := svc.Registry()
	slog.Info("registry loaded",
		"version", reg.Version(),
		"entities", reg.Len(),
		"fields", len(catalog.Fields()),
	)

	ok = true
	return a, nil
}

// Close releases the store and lock connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadCatalog(path string) (*schema.Catalog, error) {
	if path == "" {
		return schema.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := schema.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	slog.Info("catalog loaded", "path", path, "fields", len(c.Fields()))
	return c, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store; registry is lost on restart")
		return store.NewMemory(), nil

	case config.DriverPostgres:
		pool, err := store.OpenPool(ctx, store.PoolConfig{
			URL:             cfg.Store.DatabaseURL,
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.Store.MaxConnLifetime,
			MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		if u, err := url.Parse(cfg.Store.DatabaseURL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		}

		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil

	case config.DriverBadger:
		b, err := store.OpenBadger(store.BadgerConfig{
			Path:       cfg.Store.BadgerPath,
			SyncWrites: cfg.Store.BadgerSyncWrites,
			GCInterval: cfg.Store.BadgerGCInterval,
			Logger:     slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close)
		slog.Info("opened badger store", "path", cfg.Store.BadgerPath)
		return b, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func (a *App) openLock(ctx context.Context, cfg *config.Config) (core.CommitLock, error) {
	if !cfg.Redis.Enabled() {
		a.Lock = core.NewLocalCommitLock(cfg.Ingest.CommitWait)
		return a.Lock, nil
	}

	rcfg := store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.LockKey,
		TTL:      cfg.Redis.LockTTL,
		MaxWait:  cfg.Ingest.CommitWait,
	}
	rdb, err := store.NewRedisClient(ctx, rcfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	slog.Info("using redis commit lock", "addr", cfg.Redis.Addr, "key", rcfg.Key)
	return store.NewRedisCommitLock(rdb, rcfg), nil
}

// openEmbedder returns the configured embedder and the catalog with field
// vectors attached. A provider that cannot embed the catalog is logged and
// matching falls back to lexical scoring.
func openEmbedder(ctx context.Context, cfg *config.Config, catalog *schema.Catalog) (core.Embedder, *schema.Catalog) {
	if !cfg.Embedding.Enabled() {
		return nil, catalog
	}

	client, err := embedding.NewOpenAI(embedding.Config{
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		BaseURL:           cfg.Embedding.BaseURL,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		Timeout:           cfg.Embedding.Timeout,
	})
	if err != nil {
		slog.Warn("embeddings disabled", "error", err)
		return nil, catalog
	}
	e := embedding.NewCache(client, cfg.Embedding.CacheSize)

	embedded, err := embedding.EmbedCatalog(ctx, catalog, e)
	if err != nil {
		slog.Warn("catalog embedding failed; matching headers lexically", "error", err)
		return nil, catalog
	}
	slog.Info("embeddings enabled", "provider", cfg.Embedding.Provider, "model", cfg.Embedding.Model)
	return e, embedded
}
