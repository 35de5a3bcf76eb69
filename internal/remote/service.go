// Package remote talks to the backend: the RPC client used by the queue
// reconciler and the connectivity state that gates it.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrRemote marks any failed backend call. It is always recoverable: the
// queued entry stays for the next pass.
var ErrRemote = errors.New("remote call failed")

// Error describes a failed call.
type Error struct {
	Method string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Method, e.Status, e.Body)
	}
	return e.Method + ": " + ErrRemote.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRemote, e.Err}
	}
	return []error{ErrRemote}
}

// CustomerRef is what the backend returns for a created customer.
type CustomerRef struct {
	Name         string `json:"name"`
	CustomerName string `json:"customer_name,omitempty"`
}

// ItemStock is a quantity reported by the backend.
type ItemStock struct {
	ItemCode  string          `json:"item_code"`
	ActualQty decimal.Decimal `json:"actual_qty"`
}

// Service is the backend collaborator of the reconciler.
type Service interface {
	SubmitInvoice(ctx context.Context, invoice, data map[string]interface{}) error
	// UpdateInvoice saves the invoice as a draft.
	UpdateInvoice(ctx context.Context, invoice map[string]interface{}) error
	CreateCustomer(ctx context.Context, args map[string]interface{}) (CustomerRef, error)
	ProcessPayment(ctx context.Context, args map[string]interface{}) error
	ItemStock(ctx context.Context, posProfile map[string]interface{}, itemCodes []string) ([]ItemStock, error)
}
