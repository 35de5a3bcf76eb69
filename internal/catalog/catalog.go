// Package catalog stores and searches the indexed item and customer tables.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

// DefaultSearchLimit applies when a search asks for no limit.
const DefaultSearchLimit = 100

// Health is consulted before reads; see store.Monitor.
type Health interface {
	Check(ctx context.Context) bool
}

// Catalog reads the item and customer tables directly and writes them
// through the write serializer.
type Catalog struct {
	store  store.Store
	writer *persist.Writer
	health Health
}

func New(s store.Store, w *persist.Writer, health Health) *Catalog {
	return &Catalog{store: s, writer: w, health: health}
}

func (c *Catalog) ready(ctx context.Context) error {
	if c.health != nil && !c.health.Check(ctx) {
		return store.ErrUnavailable
	}
	return nil
}

// SaveItems derives the index fields of items and schedules them in chunks.
// It returns once the last chunk is queued.
func (c *Catalog) SaveItems(ctx context.Context, items []store.Item) (*persist.Pending, error) {
	recs := make([]store.Record, 0, len(items))
	for _, it := range items {
		if it.ItemCode == "" {
			continue
		}
		it.DeriveIndexFields()
		recs = append(recs, it)
	}
	return c.bulkPut(store.Items, recs)
}

// SaveCustomers keeps the fields the offline customer picker uses.
func (c *Catalog) SaveCustomers(ctx context.Context, customers []store.Customer) (*persist.Pending, error) {
	recs := make([]store.Record, 0, len(customers))
	for _, cu := range customers {
		if cu.Name == "" {
			continue
		}
		recs = append(recs, cu)
	}
	return c.bulkPut(store.Customers, recs)
}

func (c *Catalog) bulkPut(t store.Table, recs []store.Record) (*persist.Pending, error) {
	var last *persist.Pending
	for start := 0; start < len(recs); start += store.BulkChunkSize {
		end := start + store.BulkChunkSize
		if end > len(recs) {
			end = len(recs)
		}
		msg, err := persist.BulkPutMessage(t, recs[start:end])
		if err != nil {
			return nil, err
		}
		last = c.writer.Write(msg)
	}
	logger.Log.Debug("Scheduled catalog save", zap.String("table", string(t)), zap.Int("records", len(recs)))
	return last, nil
}

func (c *Catalog) Item(ctx context.Context, code string) (store.Item, bool, error) {
	var it store.Item
	if err := c.ready(ctx); err != nil {
		return it, false, err
	}
	found, err := c.store.Get(ctx, store.Items, code, &it)
	return it, found, err
}

// Items returns a page of the items table in key order.
func (c *Catalog) Items(ctx context.Context, offset, limit int) ([]store.Item, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	return store.Query[store.Item](ctx, c.store, store.Items, nil, offset, limit)
}

func (c *Catalog) CountItems(ctx context.Context) (int, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}
	return c.store.Count(ctx, store.Items)
}

func (c *Catalog) ClearItems() *persist.Pending {
	return c.writer.Write(persist.ClearMessage(store.Items))
}

func (c *Catalog) Customers(ctx context.Context, offset, limit int) ([]store.Customer, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	return store.Query[store.Customer](ctx, c.store, store.Customers, nil, offset, limit)
}

func (c *Catalog) CountCustomers(ctx context.Context) (int, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}
	return c.store.Count(ctx, store.Customers)
}

func (c *Catalog) ClearCustomers() *persist.Pending {
	return c.writer.Write(persist.ClearMessage(store.Customers))
}

// lookup is one index probe of a search.
type lookup struct {
	index  string
	prefix bool
}

// collector keeps the first copy of each record in the order found.
type collector[T any] struct {
	seen  map[string]bool
	items []T
	keep  func(T) bool
}

func newCollector[T any](keep func(T) bool) *collector[T] {
	return &collector[T]{seen: make(map[string]bool), keep: keep}
}

func (c *collector[T]) scan(key string, raw json.RawMessage) (bool, error) {
	if c.seen[key] {
		return true, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	if c.keep(v) {
		c.seen[key] = true
		c.items = append(c.items, v)
	}
	return true, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// searchWords splits a query into distinct lowercase words and picks the
// longest as the index probe.
func searchWords(search string) ([]string, string) {
	seen := make(map[string]bool)
	var words []string
	primary := ""
	for _, w := range strings.Fields(strings.ToLower(search)) {
		if seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
		if len(w) > len(primary) {
			primary = w
		}
	}
	return words, primary
}

func matchesAll(words []string, fields []string) bool {
	if len(words) == 0 {
		return true
	}
	if len(fields) == 0 {
		return false
	}
	for _, w := range words {
		hit := false
		for _, f := range fields {
			if strings.Contains(f, w) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func searchable(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
