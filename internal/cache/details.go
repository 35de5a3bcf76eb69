package cache

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

// ItemDetail is the per-profile, per-price-list snapshot of an item that
// offline sales need.
type ItemDetail struct {
	ItemCode      string           `json:"item_code"`
	ActualQty     decimal.Decimal  `json:"actual_qty"`
	HasBatchNo    bool             `json:"has_batch_no,omitempty"`
	HasSerialNo   bool             `json:"has_serial_no,omitempty"`
	ItemUOMs      []store.ItemUOM  `json:"item_uoms,omitempty"`
	BatchNoData   []store.BatchNo  `json:"batch_no_data,omitempty"`
	SerialNoData  []store.SerialNo `json:"serial_no_data,omitempty"`
	Rate          decimal.Decimal  `json:"rate"`
	PriceListRate decimal.Decimal  `json:"price_list_rate"`
	Currency      string           `json:"currency,omitempty"`
}

// DetailOf keeps the detail fields of it.
func DetailOf(it store.Item) ItemDetail {
	return ItemDetail{
		ItemCode:      it.ItemCode,
		ActualQty:     it.ActualQty,
		HasBatchNo:    it.HasBatchNo,
		HasSerialNo:   it.HasSerialNo,
		ItemUOMs:      it.ItemUOMs,
		BatchNoData:   it.BatchNoData,
		SerialNoData:  it.SerialNoData,
		Rate:          it.Rate,
		PriceListRate: it.PriceListRate,
		Currency:      it.Currency,
	}
}

// apply overlays d on the base catalog record.
func (d ItemDetail) apply(base store.Item) store.Item {
	base.ItemCode = d.ItemCode
	base.ActualQty = d.ActualQty
	base.HasBatchNo = d.HasBatchNo
	base.HasSerialNo = d.HasSerialNo
	base.ItemUOMs = d.ItemUOMs
	base.BatchNoData = d.BatchNoData
	base.SerialNoData = d.SerialNoData
	base.Rate = d.Rate
	base.PriceListRate = d.PriceListRate
	if d.Currency != "" {
		base.Currency = d.Currency
	}
	return base
}

// ItemDetailsCache caches item details keyed by profile, price list and item
// code.
type ItemDetailsCache struct {
	*Tiered[ItemDetail]
	store store.Store
}

func NewItemDetailsCache(s store.Store, w *persist.Writer, ttl time.Duration, maxEntries int, session *Session[ItemDetail]) *ItemDetailsCache {
	return &ItemDetailsCache{
		Tiered: NewTiered[ItemDetail]("item_details", ttl,
			NewMemory[ItemDetail]("item_details", maxEntries), session,
			NewTableBacking[ItemDetail]("item_details", s, w)),
		store: s,
	}
}

// DetailKey joins the parts of an item detail key.
func DetailKey(profile, priceList, itemCode string) string {
	return strings.Join([]string{profile, priceList, itemCode}, "|")
}

func (c *ItemDetailsCache) Save(ctx context.Context, profile, priceList string, items []store.Item) error {
	for _, it := range items {
		if it.ItemCode == "" {
			continue
		}
		if err := c.Set(ctx, DetailKey(profile, priceList, it.ItemCode), DetailOf(it)); err != nil {
			return err
		}
	}
	return nil
}

// GetMany returns the fresh details among codes, merged over their catalog
// records, and the codes that must be fetched.
func (c *ItemDetailsCache) GetMany(ctx context.Context, profile, priceList string, codes []string) ([]store.Item, []string) {
	var cached []store.Item
	var missing []string
	for _, code := range codes {
		d, ok := c.Get(ctx, DetailKey(profile, priceList, code))
		if !ok {
			missing = append(missing, code)
			continue
		}
		var base store.Item
		if _, err := c.store.Get(ctx, store.Items, code, &base); err != nil {
			base = store.Item{}
		}
		cached = append(cached, d.apply(base))
	}
	return cached, missing
}
