package cache

import (
	"context"
	"time"

	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

// priceBacking keeps price-list rows in the item_prices table. Each row
// carries its own timestamp; an entry's timestamp is that of its oldest
// fresh row.
type priceBacking struct {
	store  store.Store
	writer *persist.Writer
	ttl    time.Duration
	now    func() time.Time
}

// Load returns the rows of priceList that are still fresh. Stale rows are
// skipped, not reported as a miss of the whole list.
func (b *priceBacking) Load(ctx context.Context, priceList string) (Entry[[]store.ItemPrice], bool, error) {
	var e Entry[[]store.ItemPrice]
	now := b.now()
	rows, err := store.QueryIndex[store.ItemPrice](ctx, b.store, store.ItemPrices, "price_list", priceList, false, func(p store.ItemPrice) bool {
		return p.PriceList == priceList && now.Sub(p.Timestamp) < b.ttl
	}, 0, 0)
	if err != nil || len(rows) == 0 {
		return e, false, err
	}
	e.Data = rows
	e.TTL = b.ttl
	e.Timestamp = oldestRow(rows)
	return e, true, nil
}

// Store replaces the rows of priceList with e.Data. Rows without a
// timestamp take the entry's.
func (b *priceBacking) Store(ctx context.Context, priceList string, e Entry[[]store.ItemPrice]) error {
	keep := make(map[string]bool, len(e.Data))
	recs := make([]store.Record, 0, len(e.Data))
	for _, p := range e.Data {
		p.PriceList = priceList
		if p.Timestamp.IsZero() {
			p.Timestamp = e.Timestamp
		}
		keep[p.PrimaryKey()] = true
		recs = append(recs, p)
	}

	old, err := store.QueryIndex[store.ItemPrice](ctx, b.store, store.ItemPrices, "price_list", priceList, false, func(p store.ItemPrice) bool {
		return p.PriceList == priceList && !keep[p.PrimaryKey()]
	}, 0, 0)
	if err != nil {
		return err
	}
	for _, p := range old {
		b.writer.Write(persist.DeleteMessage(store.ItemPrices, p.PrimaryKey()))
	}

	msg, err := persist.BulkPutMessage(store.ItemPrices, recs)
	if err != nil {
		return err
	}
	b.writer.Write(msg)
	return nil
}

func oldestRow(rows []store.ItemPrice) time.Time {
	var oldest time.Time
	for i, r := range rows {
		if i == 0 || r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
		}
	}
	return oldest
}

func (b *priceBacking) Delete(ctx context.Context, priceList string) error {
	rows, err := store.QueryIndex[store.ItemPrice](ctx, b.store, store.ItemPrices, "price_list", priceList, false, nil, 0, 0)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.PriceList == priceList {
			b.writer.Write(persist.DeleteMessage(store.ItemPrices, r.PrimaryKey()))
		}
	}
	return nil
}

func (b *priceBacking) Clear(context.Context) error {
	b.writer.Write(persist.ClearMessage(store.ItemPrices))
	return nil
}

// PriceListCache caches the rates of a price list.
type PriceListCache struct {
	*Tiered[[]store.ItemPrice]
	store   store.Store
	backing *priceBacking
}

func NewPriceListCache(s store.Store, w *persist.Writer, ttl time.Duration, maxEntries int, session *Session[[]store.ItemPrice]) *PriceListCache {
	backing := &priceBacking{store: s, writer: w, ttl: ttl, now: time.Now}
	return &PriceListCache{
		Tiered:  NewTiered[[]store.ItemPrice]("price_list", ttl, NewMemory[[]store.ItemPrice]("price_list", maxEntries), session, backing),
		store:   s,
		backing: backing,
	}
}

// SaveItems merges the rates of items into the cached rows of priceList, so
// a catalog loaded page by page ends up whole in every tier. An item's price
// list rate wins over its rate.
func (c *PriceListCache) SaveItems(ctx context.Context, priceList string, items []store.Item) error {
	if priceList == "" {
		return nil
	}
	now := c.now()
	rows := make([]store.ItemPrice, 0, len(items))
	for _, it := range items {
		price := it.PriceListRate
		if price.IsZero() {
			price = it.Rate
		}
		rows = append(rows, store.ItemPrice{
			PriceList:     priceList,
			ItemCode:      it.ItemCode,
			Rate:          price,
			PriceListRate: price,
			Currency:      it.Currency,
			Timestamp:     now,
		})
	}
	if prev, ok := c.lookup(ctx, priceList); ok {
		rows = mergePriceRows(prev, rows)
	}
	return c.setEntry(ctx, priceList, Entry[[]store.ItemPrice]{Data: rows, Timestamp: oldestRow(rows), TTL: c.ttl})
}

// mergePriceRows overlays rows on the fresh rows of prev by item code.
// Rows of prev keep their position and, when they carry none, take prev's
// timestamp.
func mergePriceRows(prev Entry[[]store.ItemPrice], rows []store.ItemPrice) []store.ItemPrice {
	out := make([]store.ItemPrice, 0, len(prev.Data)+len(rows))
	at := make(map[string]int, len(prev.Data)+len(rows))
	for _, p := range prev.Data {
		if p.Timestamp.IsZero() {
			p.Timestamp = prev.Timestamp
		}
		at[p.ItemCode] = len(out)
		out = append(out, p)
	}
	for _, p := range rows {
		if i, ok := at[p.ItemCode]; ok {
			out[i] = p
			continue
		}
		at[p.ItemCode] = len(out)
		out = append(out, p)
	}
	return out
}

// Items returns the catalog items of a fresh price list with its rates
// applied. Rows whose item is not in the catalog are skipped.
func (c *PriceListCache) Items(ctx context.Context, priceList string) ([]store.Item, bool, error) {
	rows, ok := c.Get(ctx, priceList)
	if !ok {
		return nil, false, nil
	}
	out := make([]store.Item, 0, len(rows))
	for _, p := range rows {
		var it store.Item
		found, err := c.store.Get(ctx, store.Items, p.ItemCode, &it)
		if err != nil {
			return nil, false, err
		}
		if !found {
			continue
		}
		it.Rate = p.PriceListRate
		it.PriceListRate = p.PriceListRate
		if p.Currency != "" {
			it.Currency = p.Currency
		}
		out = append(out, it)
	}
	return out, true, nil
}
