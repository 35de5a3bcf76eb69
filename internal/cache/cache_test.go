package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/mirror"
	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

func newStore(t *testing.T) (store.Store, *persist.Writer) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	db, err := database.Open(database.InMemoryOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.NewBadgerStore(context.Background(), db)
	require.NoError(t, err)
	w := persist.NewWriter(persist.NewSink(s, nil, persist.NewWriteLock()), nil)
	t.Cleanup(w.Close)
	return s, w
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestEntryFreshness(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := Entry[int]{Data: 1, Timestamp: base, TTL: time.Minute}

	assert.True(t, e.Fresh(base.Add(time.Minute-time.Millisecond)))
	assert.False(t, e.Fresh(base.Add(time.Minute)))
	assert.False(t, e.Fresh(base.Add(time.Minute+time.Millisecond)))
}

func TestMemoryLazyExpiry(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	clk := &clock{t: time.Unix(1000, 0)}
	m := NewMemory[string]("test", 10)
	m.now = clk.now

	m.Set("a", Entry[string]{Data: "x", Timestamp: clk.t, TTL: time.Second})
	_, ok := m.Get("a")
	assert.True(t, ok)

	clk.t = clk.t.Add(time.Second + time.Millisecond)
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryEvictsOldestFifth(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	clk := &clock{t: time.Unix(1000, 0)}
	m := NewMemory[int]("test", 10)
	m.now = clk.now

	for i := 0; i < 11; i++ {
		m.Set(fmt.Sprint(i), Entry[int]{Data: i, Timestamp: clk.t.Add(time.Duration(i) * time.Millisecond), TTL: time.Hour})
	}
	// 11 entries over a limit of 10: floor(11*0.2) = 2 oldest go.
	assert.Equal(t, 9, m.Len())
	_, ok := m.Get("0")
	assert.False(t, ok)
	_, ok = m.Get("1")
	assert.False(t, ok)
	_, ok = m.Get("2")
	assert.True(t, ok)
	_, ok = m.Get("10")
	assert.True(t, ok)
}

func TestMemoryEvictsAtLeastOne(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	m := NewMemory[int]("test", 2)
	now := time.Now()
	for i := 0; i < 3; i++ {
		m.Set(fmt.Sprint(i), Entry[int]{Data: i, Timestamp: now.Add(time.Duration(i) * time.Millisecond), TTL: time.Hour})
	}
	assert.Equal(t, 2, m.Len())
	_, ok := m.Peek("0")
	assert.False(t, ok)
}

func TestTieredPromotesFromLowerTiers(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()

	session, err := NewSession[string](8)
	require.NoError(t, err)
	c := NewTiered[string]("test", time.Minute, NewMemory[string]("test", 8), session, NewTableBacking[string]("test", s, w))

	require.NoError(t, c.Set(ctx, "k", "v"))
	require.NoError(t, w.Flush(ctx))

	c.memory.Clear()
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	_, ok = c.memory.Peek("k")
	assert.True(t, ok)

	c.memory.Clear()
	session.Clear()
	v, ok = c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, session.Len())
}

func TestTieredExpiredIsMissButStaleIsServed(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()
	clk := &clock{t: time.Now()}

	mem := NewMemory[string]("test", 8)
	mem.now = clk.now
	c := NewTiered[string]("test", time.Minute, mem, nil, NewTableBacking[string]("test", s, w))
	c.now = clk.now

	require.NoError(t, c.Set(ctx, "k", "old"))
	require.NoError(t, w.Flush(ctx))

	clk.t = clk.t.Add(time.Minute + time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	e, err := c.GetStale(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "old", e.Data)

	_, err = c.GetStale(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestGetOrFetchWritesBackAndSharesFetch(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()
	c := NewTiered[int]("test", time.Minute, NewMemory[int]("test", 8), nil, NewTableBacking[int]("test", s, w))

	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	}
	v, err := c.GetOrFetch(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrFetch(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), calls.Load())

	boom := errors.New("offline")
	_, err = c.GetOrFetch(ctx, "other", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(ctx, "other")
	assert.False(t, ok)
}

func TestTableBackingClearKeepsOtherNamespaces(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()

	a := NewTableBacking[int]("a", s, w)
	b := NewTableBacking[int]("b", s, w)
	e := Entry[int]{Data: 1, Timestamp: time.Now(), TTL: time.Hour}
	require.NoError(t, a.Store(ctx, "x", e))
	require.NoError(t, b.Store(ctx, "x", e))
	require.NoError(t, w.Flush(ctx))

	require.NoError(t, a.Clear(ctx))
	require.NoError(t, w.Flush(ctx))

	_, ok, err := a.Load(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = b.Load(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPriceListCache(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()

	apple := store.Item{ItemCode: "A", ItemName: "Apple", Rate: decimal.NewFromInt(1)}
	apple.DeriveIndexFields()
	require.NoError(t, s.Put(ctx, store.Items, apple))

	c := NewPriceListCache(s, w, time.Minute, 8, nil)
	require.NoError(t, c.SaveItems(ctx, "Retail", []store.Item{
		{ItemCode: "A", PriceListRate: decimal.NewFromInt(5)},
		{ItemCode: "GHOST", Rate: decimal.NewFromInt(9)},
	}))
	require.NoError(t, c.SaveItems(ctx, "Wholesale", []store.Item{{ItemCode: "A", Rate: decimal.NewFromInt(3)}}))
	require.NoError(t, w.Flush(ctx))

	c.memory.Clear()
	items, ok, err := c.Items(ctx, "Retail")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "Apple", items[0].ItemName)
	assert.True(t, items[0].Rate.Equal(decimal.NewFromInt(5)))

	require.NoError(t, c.Invalidate(ctx, "Retail"))
	require.NoError(t, w.Flush(ctx))
	_, ok, err = c.Items(ctx, "Retail")
	require.NoError(t, err)
	assert.False(t, ok)

	rows, ok := c.Get(ctx, "Wholesale")
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Rate.Equal(decimal.NewFromInt(3)))
}

func TestItemDetailsGetMany(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, store.Items, store.Item{ItemCode: "A", ItemName: "Apple", ItemGroup: "Fruit"}))

	c := NewItemDetailsCache(s, w, 15*time.Minute, 8, nil)
	require.NoError(t, c.Save(ctx, "Main", "Retail", []store.Item{{ItemCode: "A", ActualQty: decimal.NewFromInt(7), Rate: decimal.NewFromInt(2)}}))

	cached, missing := c.GetMany(ctx, "Main", "Retail", []string{"A", "B"})
	require.Len(t, cached, 1)
	assert.Equal(t, "Apple", cached[0].ItemName)
	assert.Equal(t, "Fruit", cached[0].ItemGroup)
	assert.True(t, cached[0].ActualQty.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, []string{"B"}, missing)

	_, missing = c.GetMany(ctx, "Other", "Retail", []string{"A"})
	assert.Equal(t, []string{"A"}, missing)
}

func TestBalanceCacheUsesMirror(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()
	m := mirror.New(s, w, nil, nil, mirror.Options{})
	require.NoError(t, m.Load(ctx))

	c := NewBalanceCache(m, 24*time.Hour, 8)
	require.NoError(t, c.Set(ctx, "Jane", decimal.NewFromInt(120)))

	b, ok := m.CustomerBalance("Jane")
	require.True(t, ok)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(120)))

	c.memory.Clear()
	v, ok := c.Get(ctx, "Jane")
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(120)))

	require.NoError(t, m.SetCustomerBalance("Old", mirror.CustomerBalance{
		Balance: decimal.NewFromInt(1), Timestamp: time.Now().Add(-25 * time.Hour),
	}))
	n, err := c.ClearExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok = m.CustomerBalance("Old")
	assert.False(t, ok)
}

func TestMemoryCopiesValues(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	m := NewMemory[[]string]("test", 8)

	in := []string{"a"}
	m.Set("k", Entry[[]string]{Data: in, Timestamp: time.Now(), TTL: time.Hour})
	in[0] = "changed"

	e, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, e.Data)

	e.Data[0] = "mutated"
	e, ok = m.Peek("k")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, e.Data)
}

func priceCodes(rows []store.ItemPrice) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ItemCode)
	}
	return out
}

func TestPriceListPagesMergeAcrossTiers(t *testing.T) {
	s, w := newStore(t)
	ctx := context.Background()
	clk := &clock{t: time.Now()}

	c := NewPriceListCache(s, w, time.Minute, 8, nil)
	c.now = clk.now
	c.memory.now = clk.now
	c.backing.now = clk.now

	require.NoError(t, c.SaveItems(ctx, "Retail", []store.Item{{ItemCode: "A", Rate: decimal.NewFromInt(1)}}))
	clk.t = clk.t.Add(40 * time.Second)
	require.NoError(t, c.SaveItems(ctx, "Retail", []store.Item{{ItemCode: "B", Rate: decimal.NewFromInt(2)}}))
	require.NoError(t, w.Flush(ctx))

	rows, ok := c.Get(ctx, "Retail")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"A", "B"}, priceCodes(rows))

	c.memory.Clear()
	rows, ok = c.Get(ctx, "Retail")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"A", "B"}, priceCodes(rows))

	// A is past its TTL, B is not: the list still serves B.
	clk.t = clk.t.Add(30 * time.Second)
	rows, ok = c.Get(ctx, "Retail")
	require.True(t, ok)
	assert.Equal(t, []string{"B"}, priceCodes(rows))

	require.NoError(t, c.SaveItems(ctx, "Retail", []store.Item{{ItemCode: "B", Rate: decimal.NewFromInt(7)}}))
	require.NoError(t, w.Flush(ctx))
	c.memory.Clear()
	rows, ok = c.Get(ctx, "Retail")
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Rate.Equal(decimal.NewFromInt(7)))

	n, err := s.Count(ctx, store.ItemPrices)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
