// Package database opens and manages the embedded badger instance backing
// the durable store.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"pos-offline-core/internal/config"
	"pos-offline-core/internal/logger"
)

// Options controls how a Database is opened.
type Options struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path           string
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// OptionsFromConfig maps the store section of the process config.
func OptionsFromConfig(cfg config.StoreConfig) Options {
	return Options{
		Path:           cfg.Path,
		InMemory:       cfg.InMemory,
		SyncWrites:     cfg.SyncWrites,
		GCInterval:     cfg.GetGCInterval(),
		GCDiscardRatio: cfg.GCDiscardRatio,
	}
}

// InMemoryOptions is used by tests.
func InMemoryOptions() Options {
	return Options{InMemory: true}
}

// zapBadgerLogger adapts the process logger to badger's Logger interface.
type zapBadgerLogger struct {
	log *zap.SugaredLogger
}

func (l zapBadgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l zapBadgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l zapBadgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l zapBadgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

func open(opts Options) (*badger.DB, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, &OpenError{Kind: NotFound, Err: errors.New("path is required for persistent database")}
	}

	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, &OpenError{Kind: NotFound, Err: fmt.Errorf("create database directory %s: %w", opts.Path, err)}
		}
		bo = badger.DefaultOptions(opts.Path)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapBadgerLogger{log: logger.Log.Sugar()})

	db, err := badger.Open(bo)
	if err != nil {
		return nil, classify(err)
	}
	return db, nil
}

// Database wraps a badger instance with reopen/recreate support. The
// underlying handle is swapped under mu; callers obtain it through View and
// Update so a reopen never races an in-flight transaction.
type Database struct {
	opts Options

	mu     sync.RWMutex
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens the database described by opts.
func Open(opts Options) (*Database, error) {
	db, err := open(opts)
	if err != nil {
		return nil, err
	}
	d := &Database{opts: opts, db: db}
	d.startGC()

	logger.Log.Info("Opened offline database",
		zap.String("path", opts.Path),
		zap.Bool("in_memory", opts.InMemory),
	)
	return d, nil
}

// InMemory reports whether the database keeps no files on disk.
func (d *Database) InMemory() bool {
	return d.opts.InMemory
}

// View runs fn in a read-only transaction.
func (d *Database) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return &OpenError{Kind: InvalidState, Err: badger.ErrDBClosed}
	}
	return d.db.View(fn)
}

// Update runs fn in a read-write transaction and commits it.
func (d *Database) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return &OpenError{Kind: InvalidState, Err: badger.ErrDBClosed}
	}
	return d.db.Update(fn)
}

// Size returns the LSM and value log sizes in bytes.
func (d *Database) Size() (int64, int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return 0, 0
	}
	return d.db.Size()
}

// Reopen closes the current handle (if any) and opens it again without
// touching the data on disk.
func (d *Database) Reopen() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeLocked()
	db, err := open(d.opts)
	if err != nil {
		return err
	}
	d.db = db
	d.startGCLocked()
	return nil
}

// Recreate deletes all data and opens an empty database in its place.
func (d *Database) Recreate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opts.InMemory {
		// An in-memory instance has nothing on disk; a fresh open is empty.
		d.closeLocked()
	} else {
		d.closeLocked()
		if err := os.RemoveAll(d.opts.Path); err != nil {
			return &OpenError{Kind: Unknown, Err: fmt.Errorf("remove database directory: %w", err)}
		}
	}

	db, err := open(d.opts)
	if err != nil {
		return err
	}
	d.db = db
	d.startGCLocked()

	logger.Log.Warn("Recreated offline database", zap.String("path", d.opts.Path))
	return nil
}

// Close stops GC and closes the handle. Safe to call more than once.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *Database) closeLocked() error {
	d.stopGCLocked()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *Database) startGC() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startGCLocked()
}

func (d *Database) startGCLocked() {
	if d.opts.InMemory || d.opts.GCInterval <= 0 || d.db == nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	d.gcStop, d.gcDone = stop, done
	db, interval, ratio := d.db, d.opts.GCInterval, d.opts.GCDiscardRatio

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// ErrNoRewrite means there was nothing worth collecting.
				if err := db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					logger.Log.Warn("Value log GC failed", zap.Error(err))
				}
			}
		}
	}()
}

func (d *Database) stopGCLocked() {
	if d.gcStop == nil {
		return
	}
	close(d.gcStop)
	<-d.gcDone
	d.gcStop, d.gcDone = nil, nil
}
