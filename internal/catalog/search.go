package catalog

import (
	"context"
	"strings"

	"pos-offline-core/internal/store"
)

// ItemQuery selects items by free text and group.
type ItemQuery struct {
	Search    string
	ItemGroup string
	Offset    int
	Limit     int
}

var itemLookups = []lookup{
	{index: "item_code", prefix: true},
	{index: "item_name", prefix: true},
	{index: "barcodes"},
	{index: "name_keywords", prefix: true},
	{index: "serials"},
	{index: "batches"},
}

func itemFields(it store.Item) []string {
	fields := searchable(it.ItemCode, it.ItemName, it.Description, it.Brand, it.ItemGroup)
	for _, b := range it.ItemBarcode {
		fields = append(fields, searchable(b.Barcode)...)
	}
	fields = append(fields, searchable(it.Barcodes...)...)
	fields = append(fields, searchable(it.NameKeywords...)...)
	fields = append(fields, searchable(it.Serials...)...)
	fields = append(fields, searchable(it.Batches...)...)
	fields = append(fields, searchable(it.Attributes...)...)
	return fields
}

// SearchItems finds items matching every word of q.Search. The longest word
// probes the secondary indexes; when that finds nothing the table is
// scanned. A group of "" or "all" does not filter.
func (c *Catalog) SearchItems(ctx context.Context, q ItemQuery) ([]store.Item, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	words, primary := searchWords(q.Search)
	group := strings.ToLower(strings.TrimSpace(q.ItemGroup))
	keep := func(it store.Item) bool {
		if group != "" && group != "all" && strings.ToLower(it.ItemGroup) != group {
			return false
		}
		return matchesAll(words, itemFields(it))
	}

	if primary == "" {
		return store.Query(ctx, c.store, store.Items, keep, q.Offset, q.Limit)
	}

	col := newCollector(keep)
	for _, l := range itemLookups {
		if err := c.store.ScanIndex(ctx, store.Items, l.index, primary, l.prefix, col.scan); err != nil {
			return nil, err
		}
	}
	if len(col.items) == 0 {
		if err := c.store.Scan(ctx, store.Items, col.scan); err != nil {
			return nil, err
		}
	}
	return page(col.items, q.Offset, q.Limit), nil
}

// FindByBarcode returns the item carrying barcode, serial or batch number
// code, in that order of preference.
func (c *Catalog) FindByBarcode(ctx context.Context, code string) (store.Item, bool, error) {
	if err := c.ready(ctx); err != nil {
		return store.Item{}, false, err
	}
	for _, index := range []string{"barcodes", "serials", "batches"} {
		items, err := store.QueryIndex[store.Item](ctx, c.store, store.Items, index, code, false, nil, 0, 1)
		if err != nil {
			return store.Item{}, false, err
		}
		if len(items) > 0 {
			return items[0], true, nil
		}
	}
	return store.Item{}, false, nil
}

var customerLookups = []lookup{
	{index: "customer_name", prefix: true},
	{index: "mobile_no", prefix: true},
	{index: "email_id", prefix: true},
	{index: "tax_id", prefix: true},
}

// SearchCustomers matches every word of search against name, phone, email
// and tax id.
func (c *Catalog) SearchCustomers(ctx context.Context, search string, offset, limit int) ([]store.Customer, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	words, primary := searchWords(search)
	keep := func(cu store.Customer) bool {
		return matchesAll(words, searchable(cu.Name, cu.CustomerName, cu.MobileNo, cu.EmailID, cu.TaxID))
	}
	if primary == "" {
		return store.Query(ctx, c.store, store.Customers, keep, offset, limit)
	}

	col := newCollector(keep)
	for _, l := range customerLookups {
		if err := c.store.ScanIndex(ctx, store.Customers, l.index, primary, l.prefix, col.scan); err != nil {
			return nil, err
		}
	}
	if len(col.items) == 0 {
		if err := c.store.Scan(ctx, store.Customers, col.scan); err != nil {
			return nil, err
		}
	}
	return page(col.items, offset, limit), nil
}
