package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-offline-core/internal/config"
	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

type env struct {
	store  store.Store
	writer *persist.Writer
	flat   *persist.FlatStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	db, err := database.Open(database.InMemoryOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.NewBadgerStore(context.Background(), db)
	require.NoError(t, err)

	flat, err := persist.NewFlatStore(afero.NewMemMapFs(), config.FallbackConfig{Dir: "/fallback", Prefix: "posa_", MaxValueBytes: 1 << 20})
	require.NoError(t, err)

	w := persist.NewWriter(persist.NewSink(s, nil, persist.NewWriteLock()), nil)
	t.Cleanup(w.Close)
	return &env{store: s, writer: w, flat: flat}
}

func (e *env) mirror(t *testing.T, opts Options) *Mirror {
	t.Helper()
	m := New(e.store, e.writer, e.flat, nil, opts)
	require.NoError(t, m.Load(context.Background()))
	return m
}

func invoice(lines ...interface{}) Document {
	items := make([]interface{}, 0, len(lines)/2)
	for i := 0; i+1 < len(lines); i += 2 {
		items = append(items, map[string]interface{}{
			"item_code": lines[i],
			"item_name": fmt.Sprintf("Item %v", lines[i]),
			"qty":       lines[i+1],
		})
	}
	return Document{"customer": "Walk-in", "items": items}
}

func TestStateSurvivesRestart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m := e.mirror(t, Options{})
	require.NoError(t, m.RefreshStock([]StockLevel{{ItemCode: "A", ActualQty: decimal.NewFromInt(4)}}))
	_, err := m.EnqueueInvoice(invoice("A", 1), Document{"mode": "offline"})
	require.NoError(t, err)
	_, err = m.EnqueueCustomer(Document{"customer_name": "Jane"})
	require.NoError(t, err)
	require.NoError(t, m.SetManualOffline(true))
	require.NoError(t, m.SetLastSyncTotals(SyncTotals{Pending: 1, Synced: 2}))
	require.NoError(t, m.Flush(ctx))

	restarted := e.mirror(t, Options{})
	invs, err := restarted.Queued(OfflineInvoices)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "Walk-in", invs[0].Invoice["customer"])
	assert.Equal(t, 1, restarted.PendingCount(OfflineCustomers))
	assert.True(t, restarted.ManualOffline())
	assert.Equal(t, SyncTotals{Pending: 1, Synced: 2}, restarted.LastSyncTotals())
	assert.True(t, restarted.CacheReady())
	qty, ok := restarted.LocalStock("A")
	require.True(t, ok)
	assert.True(t, qty.Equal(decimal.NewFromInt(3)))
}

func TestLoadFallsBackToFlatStore(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.flat.Set(string(PrintTemplate), json.RawMessage(`"<p>receipt</p>"`)))
	require.NoError(t, e.flat.Set(string(TaxInclusive), json.RawMessage(`true`)))

	m := e.mirror(t, Options{})
	assert.Equal(t, "<p>receipt</p>", m.PrintTemplate())
	assert.True(t, m.TaxInclusive())
}

func TestLoadResetsUndecodableValue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Put(ctx, store.KeyVal, store.Entry{Key: string(LastSyncTotals), Value: json.RawMessage(`"garbage"`)}))
	require.NoError(t, e.store.Put(ctx, store.KeyVal, store.Entry{Key: string(ManualOffline), Value: json.RawMessage(`true`)}))

	m := e.mirror(t, Options{})
	assert.Equal(t, SyncTotals{}, m.LastSyncTotals())
	assert.True(t, m.ManualOffline())
}

func TestValuesDoNotAlias(t *testing.T) {
	e := newEnv(t)
	m := e.mirror(t, Options{})

	doc := Document{"stock_settings": map[string]interface{}{"allow_negative_stock": false}}
	require.NoError(t, m.SetOpeningStorage(doc))
	doc["stock_settings"].(map[string]interface{})["allow_negative_stock"] = true

	got := m.OpeningStorage()
	assert.Equal(t, false, got["stock_settings"].(map[string]interface{})["allow_negative_stock"])

	got["extra"] = 1
	assert.NotContains(t, m.OpeningStorage(), "extra")

	inv := invoice("A", 1)
	require.NoError(t, m.SetOpeningStorage(Document{"stock_settings": map[string]interface{}{"allow_negative_stock": true}}))
	_, err := m.EnqueueInvoice(inv, nil)
	require.NoError(t, err)
	inv["customer"] = "changed"
	queued, err := m.Queued(OfflineInvoices)
	require.NoError(t, err)
	assert.Equal(t, "Walk-in", queued[0].Invoice["customer"])
}

func TestNonPortableValueRejected(t *testing.T) {
	e := newEnv(t)
	m := e.mirror(t, Options{})

	_, err := m.EnqueueCustomer(Document{"callback": func() {}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, persist.ErrSerialization))
	var se *persist.SerializationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, string(OfflineCustomers), se.Key)
	assert.Equal(t, 0, m.PendingCount(OfflineCustomers))
}

func TestVersionChangeWipesDerivedKeepsQueues(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m := e.mirror(t, Options{CacheVersion: 1})
	require.NoError(t, m.RefreshStock([]StockLevel{{ItemCode: "A", ActualQty: decimal.NewFromInt(5)}}))
	require.NoError(t, m.SetOffers([]Document{{"name": "10% off"}}))
	require.NoError(t, m.SetItemGroups([]string{"Drinks"}))
	_, err := m.EnqueueInvoice(invoice("A", 2), nil)
	require.NoError(t, err)
	require.NoError(t, m.SetPrintTemplate("tpl"))
	require.NoError(t, e.store.Put(ctx, store.Customers, store.Customer{Name: "C1", CustomerName: "Jane"}))
	require.NoError(t, m.Flush(ctx))

	upgraded := e.mirror(t, Options{CacheVersion: 2})
	require.NoError(t, upgraded.Flush(ctx))

	assert.Equal(t, 2, upgraded.CacheVersion())
	assert.Equal(t, 1, upgraded.PendingCount(OfflineInvoices))
	assert.Equal(t, "tpl", upgraded.PrintTemplate())
	_, ok := upgraded.LocalStock("A")
	assert.False(t, ok)
	assert.Empty(t, upgraded.Offers())
	assert.Empty(t, upgraded.ItemGroups())

	n, err := e.store.Count(ctx, store.Customers)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	again := e.mirror(t, Options{CacheVersion: 2})
	assert.Equal(t, 1, again.PendingCount(OfflineInvoices))
}

func TestFirstLoadRecordsCacheVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m := e.mirror(t, Options{CacheVersion: 1})
	require.NoError(t, m.Flush(ctx))

	var entry store.Entry
	found, err := e.store.Get(ctx, store.KeyVal, string(CacheVersionField), &entry)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, "1", string(entry.Value))

	raw, ok, err := e.flat.Get(string(CacheVersionField))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, "1", string(raw))
}
