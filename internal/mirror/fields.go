package mirror

import (
	"time"

	"pos-offline-core/internal/store"
)

// Field names one slot of the mirror. The name is also its key in the store
// and in the flat fallback.
type Field string

const (
	OfflineInvoices      Field = "offline_invoices"
	OfflineCustomers     Field = "offline_customers"
	OfflinePayments      Field = "offline_payments"
	LastSyncTotals       Field = "pos_last_sync_totals"
	UOMCache             Field = "uom_cache"
	OffersCache          Field = "offers_cache"
	CustomerBalanceCache Field = "customer_balance_cache"
	LocalStockCache      Field = "local_stock_cache"
	StockCacheReady      Field = "stock_cache_ready"
	OpeningStorage       Field = "pos_opening_storage"
	OpeningDialog        Field = "opening_dialog_storage"
	SalesPersons         Field = "sales_persons_storage"
	TaxTemplateCache     Field = "tax_template_cache"
	TranslationCache     Field = "translation_cache"
	CouponsCache         Field = "coupons_cache"
	ItemGroupsCache      Field = "item_groups_cache"
	ItemsLastSync        Field = "items_last_sync"
	CustomersLastSync    Field = "customers_last_sync"
	CacheVersionField    Field = "cache_version"
	CacheReady           Field = "cache_ready"
	TaxInclusive         Field = "tax_inclusive"
	ManualOffline        Field = "manual_offline"
	PrintTemplate        Field = "print_template"
	TermsAndConditions   Field = "terms_and_conditions"
)

// CacheVersion is bumped whenever the shape of cached data changes.
const CacheVersion = 1

type fieldKind uint8

const (
	// durable fields hold business intent or settings and survive cache wipes.
	durable fieldKind = iota
	// derived fields can be fetched again; they are wiped on a cache
	// version change or a store recreation.
	derived
	// reducible fields are derived fields that are also dropped by
	// ReduceCacheUsage.
	reducible
)

type state struct {
	OfflineInvoices      []QueueEntry
	OfflineCustomers     []QueueEntry
	OfflinePayments      []QueueEntry
	LastSyncTotals       SyncTotals
	UOMCache             map[string][]store.ItemUOM
	OffersCache          []Document
	CustomerBalanceCache map[string]CustomerBalance
	LocalStockCache      map[string]StockSnapshot
	StockCacheReady      bool
	OpeningStorage       Document
	OpeningDialog        Document
	SalesPersons         []Document
	TaxTemplateCache     map[string]Document
	TranslationCache     map[string]map[string]string
	CouponsCache         map[string]Document
	ItemGroupsCache      []string
	ItemsLastSync        *time.Time
	CustomersLastSync    *time.Time
	CacheVersion         int
	CacheReady           bool
	TaxInclusive         bool
	ManualOffline        bool
	PrintTemplate        string
	TermsAndConditions   string
}

type fieldDef struct {
	name  Field
	table store.Table
	kind  fieldKind
	slot  func(*state) interface{}
	reset func(*state)
}

func field[T any](name Field, table store.Table, kind fieldKind, slot func(*state) *T, zero func() T) fieldDef {
	return fieldDef{
		name:  name,
		table: table,
		kind:  kind,
		slot:  func(s *state) interface{} { return slot(s) },
		reset: func(s *state) { *slot(s) = zero() },
	}
}

func emptyQueue() []QueueEntry { return []QueueEntry{} }

var registry = []fieldDef{
	field(OfflineInvoices, store.Queue, durable, func(s *state) *[]QueueEntry { return &s.OfflineInvoices }, emptyQueue),
	field(OfflineCustomers, store.Queue, durable, func(s *state) *[]QueueEntry { return &s.OfflineCustomers }, emptyQueue),
	field(OfflinePayments, store.Queue, durable, func(s *state) *[]QueueEntry { return &s.OfflinePayments }, emptyQueue),
	field(LastSyncTotals, store.KeyVal, durable, func(s *state) *SyncTotals { return &s.LastSyncTotals },
		func() SyncTotals { return SyncTotals{} }),
	field(UOMCache, store.KeyVal, reducible, func(s *state) *map[string][]store.ItemUOM { return &s.UOMCache },
		func() map[string][]store.ItemUOM { return map[string][]store.ItemUOM{} }),
	field(OffersCache, store.KeyVal, reducible, func(s *state) *[]Document { return &s.OffersCache },
		func() []Document { return []Document{} }),
	field(CustomerBalanceCache, store.Cache, reducible, func(s *state) *map[string]CustomerBalance { return &s.CustomerBalanceCache },
		func() map[string]CustomerBalance { return map[string]CustomerBalance{} }),
	field(LocalStockCache, store.KeyVal, reducible, func(s *state) *map[string]StockSnapshot { return &s.LocalStockCache },
		func() map[string]StockSnapshot { return map[string]StockSnapshot{} }),
	field(StockCacheReady, store.KeyVal, reducible, func(s *state) *bool { return &s.StockCacheReady },
		func() bool { return false }),
	field(OpeningStorage, store.KeyVal, durable, func(s *state) *Document { return &s.OpeningStorage },
		func() Document { return nil }),
	field(OpeningDialog, store.KeyVal, durable, func(s *state) *Document { return &s.OpeningDialog },
		func() Document { return nil }),
	field(SalesPersons, store.KeyVal, durable, func(s *state) *[]Document { return &s.SalesPersons },
		func() []Document { return []Document{} }),
	field(TaxTemplateCache, store.KeyVal, derived, func(s *state) *map[string]Document { return &s.TaxTemplateCache },
		func() map[string]Document { return map[string]Document{} }),
	field(TranslationCache, store.KeyVal, derived, func(s *state) *map[string]map[string]string { return &s.TranslationCache },
		func() map[string]map[string]string { return map[string]map[string]string{} }),
	field(CouponsCache, store.KeyVal, reducible, func(s *state) *map[string]Document { return &s.CouponsCache },
		func() map[string]Document { return map[string]Document{} }),
	field(ItemGroupsCache, store.KeyVal, reducible, func(s *state) *[]string { return &s.ItemGroupsCache },
		func() []string { return []string{} }),
	field(ItemsLastSync, store.KeyVal, derived, func(s *state) **time.Time { return &s.ItemsLastSync },
		func() *time.Time { return nil }),
	field(CustomersLastSync, store.KeyVal, derived, func(s *state) **time.Time { return &s.CustomersLastSync },
		func() *time.Time { return nil }),
	field(CacheVersionField, store.KeyVal, durable, func(s *state) *int { return &s.CacheVersion },
		func() int { return CacheVersion }),
	field(CacheReady, store.KeyVal, durable, func(s *state) *bool { return &s.CacheReady },
		func() bool { return false }),
	field(TaxInclusive, store.KeyVal, durable, func(s *state) *bool { return &s.TaxInclusive },
		func() bool { return false }),
	field(ManualOffline, store.KeyVal, durable, func(s *state) *bool { return &s.ManualOffline },
		func() bool { return false }),
	field(PrintTemplate, store.KeyVal, durable, func(s *state) *string { return &s.PrintTemplate },
		func() string { return "" }),
	field(TermsAndConditions, store.KeyVal, durable, func(s *state) *string { return &s.TermsAndConditions },
		func() string { return "" }),
}

var fieldsByName = func() map[Field]fieldDef {
	out := make(map[Field]fieldDef, len(registry))
	for _, f := range registry {
		out[f.name] = f
	}
	return out
}()

// Fields lists every mirror field in registry order.
func Fields() []Field {
	out := make([]Field, len(registry))
	for i, f := range registry {
		out[i] = f.name
	}
	return out
}

// TableFor returns the store table that owns f.
func TableFor(f Field) store.Table {
	if def, ok := fieldsByName[f]; ok {
		return def.table
	}
	return store.KeyVal
}

func defaultState() state {
	var s state
	for _, f := range registry {
		f.reset(&s)
	}
	return s
}

func isQueue(f Field) bool {
	return f == OfflineInvoices || f == OfflineCustomers || f == OfflinePayments
}

func (s *state) queue(f Field) *[]QueueEntry {
	switch f {
	case OfflineInvoices:
		return &s.OfflineInvoices
	case OfflineCustomers:
		return &s.OfflineCustomers
	case OfflinePayments:
		return &s.OfflinePayments
	}
	return nil
}
