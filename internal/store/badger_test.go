package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	db, err := database.Open(database.InMemoryOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewBadgerStore(context.Background(), db)
	require.NoError(t, err)
	return s
}

func item(code, name, group string, barcodes ...string) Item {
	it := Item{ItemCode: code, ItemName: name, ItemGroup: group, Rate: decimal.NewFromInt(10)}
	for _, b := range barcodes {
		it.ItemBarcode = append(it.ItemBarcode, Barcode{Barcode: b})
	}
	it.DeriveIndexFields()
	return it
}

func TestPutGetEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, KeyVal, Entry{Key: "manual_offline", Value: json.RawMessage(`true`)}))

	var got Entry
	found, err := s.Get(ctx, KeyVal, "manual_offline", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `true`, string(got.Value))

	found, err = s.Get(ctx, KeyVal, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUnknownTableAndIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, Table("nope"), Entry{Key: "k"})
	assert.ErrorIs(t, err, ErrUnknownTable)

	err = s.ScanIndex(ctx, Items, "colour", "red", false, func(string, json.RawMessage) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestIndexesFollowOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Items, item("A1", "Red Apple", "Fruit", "111")))
	got, err := QueryIndex[Item](ctx, s, Items, "barcodes", "111", false, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A1", got[0].ItemCode)

	require.NoError(t, s.Put(ctx, Items, item("A1", "Green Apple", "Fruit", "222")))

	got, err = QueryIndex[Item](ctx, s, Items, "barcodes", "111", false, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "stale barcode entry must be removed")

	got, err = QueryIndex[Item](ctx, s, Items, "name_keywords", "GREEN", false, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Green Apple", got[0].ItemName)

	got, err = QueryIndex[Item](ctx, s, Items, "name_keywords", "red", false, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanIndexPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BulkPut(ctx, Items, []Record{
		item("A1", "Apple Juice", "Drinks"),
		item("A2", "Apricot Jam", "Pantry"),
		item("B1", "Banana", "Fruit"),
	}))

	got, err := QueryIndex[Item](ctx, s, Items, "name_keywords", "ap", true, nil, 0, 0)
	require.NoError(t, err)
	codes := []string{}
	for _, it := range got {
		codes = append(codes, it.ItemCode)
	}
	assert.ElementsMatch(t, []string{"A1", "A2"}, codes)
}

func TestBulkPutAcrossChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := make([]Record, 0, BulkChunkSize+250)
	for i := 0; i < BulkChunkSize+250; i++ {
		recs = append(recs, Customer{Name: fmt.Sprintf("CUST-%05d", i), CustomerName: fmt.Sprintf("Customer %d", i)})
	}
	require.NoError(t, s.BulkPut(ctx, Customers, recs))

	n, err := s.Count(ctx, Customers)
	require.NoError(t, err)
	assert.Equal(t, BulkChunkSize+250, n)
}

func TestQueryOffsetLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, Customers, Customer{Name: fmt.Sprintf("C%02d", i), CustomerName: "x"}))
	}
	got, err := Query[Customer](ctx, s, Customers, func(c Customer) bool { return c.Name != "C00" }, 2, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "C03", got[0].Name)
	assert.Equal(t, "C05", got[2].Name)
}

func TestDeleteWhereAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BulkPut(ctx, ItemPrices, []Record{
		ItemPrice{PriceList: "Standard", ItemCode: "A", Rate: decimal.NewFromInt(1)},
		ItemPrice{PriceList: "Standard", ItemCode: "B", Rate: decimal.NewFromInt(2)},
		ItemPrice{PriceList: "Wholesale", ItemCode: "A", Rate: decimal.NewFromInt(3)},
	}))

	n, err := s.DeleteWhere(ctx, ItemPrices, func(_ string, raw json.RawMessage) bool {
		var p ItemPrice
		return json.Unmarshal(raw, &p) == nil && p.PriceList == "Standard"
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := QueryIndex[ItemPrice](ctx, s, ItemPrices, "item_code", "A", false, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "Wholesale", left[0].PriceList)

	require.NoError(t, s.Put(ctx, KeyVal, Entry{Key: "keep", Value: json.RawMessage(`1`)}))
	require.NoError(t, s.Clear(ctx, ItemPrices))

	n, err = s.Count(ctx, ItemPrices)
	require.NoError(t, err)
	assert.Zero(t, n)
	left, err = QueryIndex[ItemPrice](ctx, s, ItemPrices, "item_code", "A", false, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err = s.Count(ctx, KeyVal)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "clearing one table leaves the others alone")
}

func TestDeleteRemovesIndexEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Customers, Customer{Name: "CUST-1", CustomerName: "Jane", MobileNo: "0700"}))
	require.NoError(t, s.Delete(ctx, Customers, "CUST-1"))

	got, err := QueryIndex[Customer](ctx, s, Customers, "mobile_no", "0700", false, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
