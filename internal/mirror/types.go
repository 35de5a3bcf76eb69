package mirror

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart         = errors.New("cart is empty, add items before saving")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotQueue          = errors.New("field is not a queue")
)

// Document is an opaque business payload (invoice, customer or payment
// arguments). Numbers inside it are json.Number.
type Document = map[string]interface{}

// QueueEntry is one pending offline operation. It never aliases caller data.
type QueueEntry struct {
	ID        string    `json:"id"`
	QueuedAt  time.Time `json:"queued_at"`
	Invoice   Document  `json:"invoice,omitempty"`
	Data      Document  `json:"data,omitempty"`
	Args      Document  `json:"args,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// StockSnapshot is the last known quantity of an item.
type StockSnapshot struct {
	ActualQty   decimal.Decimal `json:"actual_qty"`
	LastUpdated time.Time       `json:"last_updated"`
}

// StockLine is a quantity sold.
type StockLine struct {
	ItemCode string
	ItemName string
	Qty      decimal.Decimal
}

// StockLevel is an authoritative quantity reported by the server.
type StockLevel struct {
	ItemCode  string
	ActualQty decimal.Decimal
}

// SyncTotals is the user-visible result of the last invoice reconciliation.
type SyncTotals struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Drafted int `json:"drafted"`
}

type CustomerBalance struct {
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

type Shortfall struct {
	ItemCode  string          `json:"item_code"`
	ItemName  string          `json:"item_name"`
	Requested decimal.Decimal `json:"requested_qty"`
	Available decimal.Decimal `json:"available_qty"`
}

// InsufficientStockError lists the lines that would take stock below zero.
type InsufficientStockError struct {
	Items []Shortfall
}

func (e *InsufficientStockError) Error() string {
	if len(e.Items) == 1 {
		it := e.Items[0]
		return fmt.Sprintf("not enough stock for %s: need %s, have %s", it.ItemName, it.Requested, it.Available)
	}
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s: need %s, have %s", it.ItemName, it.Requested, it.Available))
	}
	return "insufficient stock for multiple items: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
