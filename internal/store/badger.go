package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/registry"
)

var (
	snapshotKey  = []byte("registry/snapshot")
	importPrefix = []byte("import/")
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration

	Logger *slog.Logger
}

// Badger keeps the snapshot and import history in an embedded BadgerDB.
// A commit is one Badger transaction.
type Badger struct {
	db   *badger.DB
	stop chan struct{}
	done chan struct{}
}

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Badger{db: db, stop: make(chan struct{}), done: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go b.runGC(cfg.GCInterval)
	} else {
		close(b.done)
	}
	return b, nil
}

func (b *Badger) runGC(every time.Duration) {
	defer close(b.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			// RunValueLogGC rewrites one file per call; loop until there is
			// nothing left worth collecting.
			for b.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Close stops garbage collection and closes the database.
func (b *Badger) Close() error {
	close(b.stop)
	<-b.done
	return b.db.Close()
}

func (b *Badger) Load(ctx context.Context) (*registry.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return decodeSnapshot(body)
}

func (b *Badger) Commit(ctx context.Context, snap registry.Snapshot, rec *core.ImportRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		saved, found, err := savedVersion(txn)
		if err != nil {
			return err
		}
		if found && snap.Version <= saved {
			return staleCommit(snap.Version, saved)
		}
		if err := txn.Set(snapshotKey, body); err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode import record: %w", err)
		}
		return txn.Set(importKey(rec), val)
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// savedVersion reads the version of the stored snapshot inside txn.
func savedVersion(txn *badger.Txn) (int64, bool, error) {
	item, err := txn.Get(snapshotKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &head)
	}); err != nil {
		return 0, false, fmt.Errorf("read saved version: %w", err)
	}
	return head.Version, true, nil
}

// importKey sorts chronologically: zero-padded commit time, then run id.
func importKey(rec *core.ImportRecord) []byte {
	return fmt.Appendf(nil, "%s%020d/%s", importPrefix, rec.CommittedAt.UnixNano(), rec.ImportRunID)
}

// Reset deletes the import history and writes snap in one transaction.
func (b *Badger) Reset(ctx context.Context, snap registry.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = importPrefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(importPrefix); it.ValidForPrefix(importPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Set(snapshotKey, body)
	})
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func (b *Badger) ListImports(ctx context.Context, limit int) ([]core.ImportRecord, error) {
	var out []core.ImportRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = importPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key within the prefix.
		seek := append(append([]byte{}, importPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(importPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec core.ImportRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	return out, nil
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
