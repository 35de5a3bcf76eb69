package mirror

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LocalStock returns the cached quantity of itemCode. The second result is
// false when no authoritative quantity was ever observed.
func (m *Mirror) LocalStock(itemCode string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.st.LocalStockCache[itemCode]
	return snap.ActualQty, ok
}

func (m *Mirror) StockSnapshot(itemCode string) (StockSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.st.LocalStockCache[itemCode]
	return snap, ok
}

func (m *Mirror) StockCacheReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.StockCacheReady
}

func (m *Mirror) SetStockCacheReady(ready bool) error {
	return m.update(func(s *state) error {
		s.StockCacheReady = ready
		return nil
	}, StockCacheReady)
}

// MissingStock returns the codes that have no snapshot yet.
func (m *Mirror) MissingStock(itemCodes []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, code := range itemCodes {
		if _, ok := m.st.LocalStockCache[code]; !ok {
			out = append(out, code)
		}
	}
	return out
}

// RefreshStock records authoritative quantities, creating snapshots as
// needed, and marks the stock cache ready.
func (m *Mirror) RefreshStock(levels []StockLevel) error {
	now := m.now()
	return m.update(func(s *state) error {
		s.ensureStock()
		for _, l := range levels {
			if l.ItemCode == "" {
				continue
			}
			s.LocalStockCache[l.ItemCode] = StockSnapshot{ActualQty: l.ActualQty, LastUpdated: now}
		}
		s.StockCacheReady = true
		return nil
	}, LocalStockCache, StockCacheReady)
}

// DeductStock lowers the snapshots of sold items. Items without a snapshot
// are left alone and quantities never go below zero.
func (m *Mirror) DeductStock(lines []StockLine) error {
	now := m.now()
	return m.update(func(s *state) error {
		deductStock(s, lines, now)
		return nil
	}, LocalStockCache)
}

// ApplyServerStock resets the sold items to the quantity the server
// reported and then deducts the sale, for invoices the server accepted
// while local stock was stale.
func (m *Mirror) ApplyServerStock(lines []StockLine, server []StockLevel) error {
	byCode := make(map[string]decimal.Decimal, len(server))
	for _, l := range server {
		byCode[l.ItemCode] = l.ActualQty
	}
	now := m.now()
	return m.update(func(s *state) error {
		s.ensureStock()
		for _, line := range lines {
			qty, ok := byCode[line.ItemCode]
			if !ok {
				continue
			}
			left := decimal.Max(decimal.Zero, qty.Sub(line.Qty.Abs()))
			s.LocalStockCache[line.ItemCode] = StockSnapshot{ActualQty: left, LastUpdated: now}
		}
		return nil
	}, LocalStockCache)
}

// ValidateStock checks lines against the cached quantities. It returns an
// *InsufficientStockError listing every short line, or nil.
func (m *Mirror) ValidateStock(lines []StockLine) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if allowNegativeStock(&m.st) {
		return nil
	}
	return validateStock(&m.st, lines)
}

func (m *Mirror) ClearLocalStock() error {
	return m.update(func(s *state) error {
		s.LocalStockCache = map[string]StockSnapshot{}
		return nil
	}, LocalStockCache)
}

func allowNegativeStock(s *state) bool {
	settings, _ := s.OpeningStorage["stock_settings"].(map[string]interface{})
	switch v := settings["allow_negative_stock"].(type) {
	case bool:
		return v
	case json.Number:
		return v.String() != "0"
	case string:
		return v == "1" || v == "true"
	}
	return false
}

// validateStock sums the lines per item so a code repeated across lines is
// checked against its total.
func validateStock(s *state, lines []StockLine) error {
	type need struct {
		name string
		qty  decimal.Decimal
	}
	var order []string
	needs := make(map[string]*need)
	for _, l := range lines {
		n, ok := needs[l.ItemCode]
		if !ok {
			name := l.ItemName
			if name == "" {
				name = l.ItemCode
			}
			n = &need{name: name}
			needs[l.ItemCode] = n
			order = append(order, l.ItemCode)
		}
		n.qty = n.qty.Add(l.Qty.Abs())
	}

	var short []Shortfall
	for _, code := range order {
		n := needs[code]
		have := s.LocalStockCache[code].ActualQty
		if have.Sub(n.qty).IsNegative() {
			short = append(short, Shortfall{ItemCode: code, ItemName: n.name, Requested: n.qty, Available: have})
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Items: short}
	}
	return nil
}

func deductStock(s *state, lines []StockLine, now time.Time) {
	for _, l := range lines {
		snap, ok := s.LocalStockCache[l.ItemCode]
		if !ok {
			continue
		}
		snap.ActualQty = decimal.Max(decimal.Zero, snap.ActualQty.Sub(l.Qty.Abs()))
		snap.LastUpdated = now
		s.LocalStockCache[l.ItemCode] = snap
	}
}

// StockLines extracts item code, name and quantity from invoice lines.
func StockLines(invoice Document) []StockLine {
	items, _ := invoice["items"].([]interface{})
	return stockLines(items)
}

func stockLines(items []interface{}) []StockLine {
	out := make([]StockLine, 0, len(items))
	for _, raw := range items {
		it, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		code, _ := it["item_code"].(string)
		if code == "" {
			continue
		}
		name, _ := it["item_name"].(string)
		out = append(out, StockLine{ItemCode: code, ItemName: name, Qty: ToDecimal(it["qty"])})
	}
	return out
}

// ToDecimal reads a JSON number, numeric string or Go number. Anything else
// is zero.
func ToDecimal(v interface{}) decimal.Decimal {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err == nil {
			return d
		}
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(n)
	case float32:
		return decimal.NewFromFloat32(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case decimal.Decimal:
		return n
	case fmt.Stringer:
		d, err := decimal.NewFromString(n.String())
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

func (s *state) ensureStock() {
	if s.LocalStockCache == nil {
		s.LocalStockCache = map[string]StockSnapshot{}
	}
}
