package mirror

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

// ResetOfflineState empties every queue and the sync totals.
func (m *Mirror) ResetOfflineState() error {
	return m.update(func(s *state) error {
		s.OfflineInvoices = []QueueEntry{}
		s.OfflineCustomers = []QueueEntry{}
		s.OfflinePayments = []QueueEntry{}
		s.LastSyncTotals = SyncTotals{}
		return nil
	}, OfflineInvoices, OfflineCustomers, OfflinePayments, LastSyncTotals)
}

// ReduceCacheUsage drops the reducible caches. Catalog tables and settings
// are left alone.
func (m *Mirror) ReduceCacheUsage() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range registry {
		if f.kind != reducible {
			continue
		}
		f.reset(&m.st)
		if err := m.persistLocked(f.name); err != nil {
			return err
		}
	}
	logger.Log.Info("Reduced cache usage")
	return nil
}

// ClearAll resets memory to defaults and clears every table and the flat
// fallback. The store itself is kept open.
func (m *Mirror) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range store.Tables {
		m.writer.Write(persist.ClearMessage(t))
	}
	if m.flat != nil {
		if err := m.flat.Clear(); err != nil {
			logger.Log.Warn("Failed to clear fallback", zap.Error(err))
		}
	}
	m.resetLocked()
	if err := m.persistAllLocked(); err != nil {
		return err
	}
	logger.Log.Info("Cleared all offline data")
	return nil
}

// ForceClearAll resets memory and deletes the durable store outright. The
// store is recreated empty and memory is written back to it through the
// recreate listener.
func (m *Mirror) ForceClearAll(ctx context.Context) error {
	if m.health == nil {
		return m.ClearAll()
	}

	// Anything already scheduled must not land in the recreated store.
	if err := m.writer.Flush(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	if m.flat != nil {
		if err := m.flat.Clear(); err != nil {
			logger.Log.Warn("Failed to clear fallback", zap.Error(err))
		}
	}

	if err := m.health.Recreate(ctx); err != nil {
		return fmt.Errorf("recreate store: %w", err)
	}
	logger.Log.Info("Force-cleared all offline data")
	return nil
}

func (m *Mirror) resetLocked() {
	m.st = defaultState()
	m.st.CacheVersion = m.opts.CacheVersion
	m.st.CacheReady = true
}

// Usage is a storage usage estimate.
type Usage struct {
	FlatBytes  int64 `json:"flat_bytes"`
	StoreBytes int64 `json:"store_bytes"`
	TotalBytes int64 `json:"total_bytes"`
	QuotaBytes int64 `json:"quota_bytes"`
	Percentage int   `json:"percentage"`
}

// UsageEstimate measures the flat fallback and the durable store.
// Concurrent callers share one measurement.
func (m *Mirror) UsageEstimate(ctx context.Context) (Usage, error) {
	v, err, _ := m.usage.Do("usage", func() (interface{}, error) {
		if m.health != nil {
			m.health.Check(ctx)
		}
		u := Usage{QuotaBytes: m.opts.QuotaBytes}
		if m.flat != nil {
			n, err := m.flat.Size()
			if err != nil {
				return nil, err
			}
			u.FlatBytes = n
		}
		u.StoreBytes = m.store.Size()
		u.TotalBytes = u.FlatBytes + u.StoreBytes
		pct := int(u.TotalBytes * 100 / u.QuotaBytes)
		if pct > 100 {
			pct = 100
		}
		u.Percentage = pct
		return u, nil
	})
	if err != nil {
		return Usage{}, err
	}
	return v.(Usage), nil
}
