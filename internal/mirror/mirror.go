// Package mirror keeps the authoritative in-memory copy of the offline
// state and persists every change through the write serializer.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pos-offline-core/internal/config"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

const (
	// DefaultQueueCap bounds each offline queue.
	DefaultQueueCap = 1000
	// DefaultQuotaBytes is assumed when the platform reports no quota.
	DefaultQuotaBytes = 50 * 1024 * 1024
)

// Health is the part of store.Monitor the mirror needs.
type Health interface {
	Check(ctx context.Context) bool
	Recreate(ctx context.Context) error
}

type Options struct {
	QueueCap     int
	QuotaBytes   int64
	CacheVersion int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueueCap:   cfg.Queue.MaxEntries,
		QuotaBytes: cfg.Store.QuotaBytes,
	}
}

// Mirror is the memory mirror. Reads are served from memory; every setter
// mutates memory and schedules a persist in the same critical section, so
// the store sees writes in the order they were made.
type Mirror struct {
	mu sync.RWMutex
	st state

	opts     Options
	store    store.Store
	writer   *persist.Writer
	flat     *persist.FlatStore
	health   Health
	validate *validator.Validate
	usage    singleflight.Group
	now      func() time.Time
}

// New builds a mirror holding default values. Call Load before serving.
// flat and health may be nil.
func New(s store.Store, w *persist.Writer, flat *persist.FlatStore, health Health, opts Options) *Mirror {
	if opts.QueueCap <= 0 {
		opts.QueueCap = DefaultQueueCap
	}
	if opts.QuotaBytes <= 0 {
		opts.QuotaBytes = DefaultQuotaBytes
	}
	if opts.CacheVersion <= 0 {
		opts.CacheVersion = CacheVersion
	}
	m := &Mirror{
		opts:     opts,
		store:    s,
		writer:   w,
		flat:     flat,
		health:   health,
		validate: validator.New(),
		now:      time.Now,
	}
	m.st = defaultState()
	m.st.CacheVersion = opts.CacheVersion
	return m
}

// Load fills memory from the durable store, falling back to the flat store
// for keys the durable store cannot provide. A value that fails to decode
// is reset to its default. When the stored cache version differs from the
// current one, derived data is wiped; queues and settings are kept.
func (m *Mirror) Load(ctx context.Context) error {
	storeOK := m.health == nil || m.health.Check(ctx)
	if !storeOK {
		logger.Log.Warn("Durable store unavailable, loading mirror from fallback only")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.st = defaultState()
	versionFound := false
	for _, f := range registry {
		raw, ok := m.loadRaw(ctx, f, storeOK)
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		if err := persist.Decode(raw, f.slot(&m.st)); err != nil {
			logger.Log.Warn("Discarding undecodable mirror value",
				zap.String("field", string(f.name)), zap.Error(err))
			f.reset(&m.st)
			continue
		}
		if f.name == CacheVersionField {
			versionFound = true
		}
	}
	if !versionFound {
		m.st.CacheVersion = m.opts.CacheVersion
		if err := m.persistLocked(CacheVersionField); err != nil {
			return err
		}
	}

	if m.st.CacheVersion != m.opts.CacheVersion {
		logger.Log.Info("Cache version changed, clearing derived data",
			zap.Int("stored", m.st.CacheVersion),
			zap.Int("current", m.opts.CacheVersion),
		)
		m.wipeDerivedLocked(true)
		m.st.CacheVersion = m.opts.CacheVersion
		if err := m.persistLocked(CacheVersionField); err != nil {
			return err
		}
	}

	m.st.CacheReady = true
	if err := m.persistLocked(CacheReady); err != nil {
		return err
	}
	logger.Log.Info("Memory mirror loaded",
		zap.Int("offline_invoices", len(m.st.OfflineInvoices)),
		zap.Int("offline_customers", len(m.st.OfflineCustomers)),
		zap.Int("offline_payments", len(m.st.OfflinePayments)),
	)
	return nil
}

func (m *Mirror) loadRaw(ctx context.Context, f fieldDef, storeOK bool) (json.RawMessage, bool) {
	if storeOK {
		var e store.Entry
		found, err := m.store.Get(ctx, f.table, string(f.name), &e)
		if err != nil {
			logger.Log.Warn("Failed to read mirror value from store",
				zap.String("field", string(f.name)), zap.Error(err))
		} else if found && len(e.Value) > 0 {
			return e.Value, true
		}
	}
	if m.flat == nil {
		return nil, false
	}
	raw, found, err := m.flat.Get(string(f.name))
	if err != nil {
		logger.Log.Warn("Failed to read mirror value from fallback",
			zap.String("field", string(f.name)), zap.Error(err))
		return nil, false
	}
	return raw, found
}

// wipeDerivedLocked resets every derived field. When clearTables is set the
// derived tables are cleared too, ahead of the re-persisted fields.
func (m *Mirror) wipeDerivedLocked(clearTables bool) {
	if clearTables {
		for _, t := range store.DerivedTables {
			m.writer.Write(persist.ClearMessage(t))
		}
	}
	for _, f := range registry {
		if f.kind == durable {
			continue
		}
		f.reset(&m.st)
		if err := m.persistLocked(f.name); err != nil {
			logger.Log.Error("Failed to persist reset field", zap.String("field", string(f.name)), zap.Error(err))
		}
	}
}

// persistLocked schedules the current value of name. The caller holds mu.
func (m *Mirror) persistLocked(name Field) error {
	f, ok := fieldsByName[name]
	if !ok {
		return fmt.Errorf("unknown mirror field %q", name)
	}
	raw, err := persist.ToPortable(f.slot(&m.st))
	if err != nil {
		if se, ok := err.(*persist.SerializationError); ok {
			se.Key = string(name)
		}
		return err
	}
	m.writer.Write(persist.PersistMessage(f.table, string(name), raw))
	if m.flat != nil {
		if err := m.flat.Set(string(name), raw); err != nil {
			logger.Log.Warn("Failed to update fallback", zap.String("field", string(name)), zap.Error(err))
		}
	}
	return nil
}

// PersistAll schedules a persist of every field.
func (m *Mirror) PersistAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistAllLocked()
}

func (m *Mirror) persistAllLocked() error {
	for _, f := range registry {
		if err := m.persistLocked(f.name); err != nil {
			return err
		}
	}
	return nil
}

// Flush waits until every write scheduled so far reached the store.
func (m *Mirror) Flush(ctx context.Context) error {
	return m.writer.Flush(ctx)
}

// BeforeRecreate is part of store.Listener.
func (m *Mirror) BeforeRecreate() {}

// AfterRecreate drops derived data, which went with the old store, and
// writes the rest of memory back so queues survive the recreation.
func (m *Mirror) AfterRecreate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range registry {
		if f.kind != durable {
			f.reset(&m.st)
		}
	}
	if err := m.persistAllLocked(); err != nil {
		logger.Log.Error("Failed to persist mirror after store recreation", zap.Error(err))
		return
	}
	logger.Log.Info("Mirror persisted to recreated store")
}

// update mutates memory under the lock and persists the named fields.
func (m *Mirror) update(fn func(s *state) error, names ...Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := fn(&m.st); err != nil {
		return err
	}
	for _, n := range names {
		if err := m.persistLocked(n); err != nil {
			return err
		}
	}
	return nil
}

// read returns a deep copy of the value selected by slot.
func read[T any](m *Mirror, slot func(s *state) T) T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, err := persist.Clone(slot(&m.st))
	if err != nil {
		logger.Log.Error("Failed to copy mirror value", zap.Error(err))
		var zero T
		return zero
	}
	return out
}

// cloneIn deep-copies a caller value before it is stored.
func cloneIn[T any](name Field, v T) (T, error) {
	out, err := persist.Clone(v)
	if err != nil {
		if se, ok := err.(*persist.SerializationError); ok {
			se.Key = string(name)
		}
		return out, err
	}
	return out, nil
}
