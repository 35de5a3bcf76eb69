package sync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/mirror"
	"pos-offline-core/internal/remote"
)

// Policy decides how one queue's entries are sent to the backend and how a
// failed call is classified.
type Policy interface {
	Entity() Entity
	Queue() mirror.Field
	Attempt(ctx context.Context, svc remote.Service, e mirror.QueueEntry) (Outcome, error)
}

// Renamer rewrites queued invoices that reference an offline customer.
type Renamer interface {
	RenameInvoiceCustomer(oldName, newName string) (int, error)
}

// InvoicePolicy submits an invoice and falls back to saving it as a draft.
type InvoicePolicy struct{}

func (InvoicePolicy) Entity() Entity      { return Invoices }
func (InvoicePolicy) Queue() mirror.Field { return mirror.OfflineInvoices }

func (InvoicePolicy) Attempt(ctx context.Context, svc remote.Service, e mirror.QueueEntry) (Outcome, error) {
	submitErr := svc.SubmitInvoice(ctx, e.Invoice, e.Data)
	if submitErr == nil {
		return Synced, nil
	}
	logger.Log.Warn("Invoice submit failed, saving as draft",
		zap.String("entry", e.ID), zap.Error(submitErr))

	draftErr := svc.UpdateInvoice(ctx, e.Invoice)
	if draftErr == nil {
		return Drafted, nil
	}
	return Failed, errors.Join(submitErr, draftErr)
}

// CustomerPolicy creates offline customers. When the backend assigns a name
// other than the one the customer was queued under, queued invoices are
// pointed at the new name.
type CustomerPolicy struct {
	Renamer Renamer
}

func (CustomerPolicy) Entity() Entity      { return Customers }
func (CustomerPolicy) Queue() mirror.Field { return mirror.OfflineCustomers }

func (p CustomerPolicy) Attempt(ctx context.Context, svc remote.Service, e mirror.QueueEntry) (Outcome, error) {
	ref, err := svc.CreateCustomer(ctx, e.Args)
	if err != nil {
		return Failed, err
	}
	temp, _ := e.Args["customer_name"].(string)
	if p.Renamer == nil || temp == "" || ref.Name == "" || ref.Name == temp {
		return Synced, nil
	}
	n, err := p.Renamer.RenameInvoiceCustomer(temp, ref.Name)
	if err != nil {
		// The customer exists now; retrying would create it twice.
		logger.Log.Error("Failed to rename customer on queued invoices",
			zap.String("from", temp), zap.String("to", ref.Name), zap.Error(err))
		return Synced, nil
	}
	if n > 0 {
		logger.Log.Info("Renamed customer on queued invoices",
			zap.String("from", temp), zap.String("to", ref.Name), zap.Int("invoices", n))
	}
	return Synced, nil
}

// PaymentPolicy processes queued payments.
type PaymentPolicy struct{}

func (PaymentPolicy) Entity() Entity      { return Payments }
func (PaymentPolicy) Queue() mirror.Field { return mirror.OfflinePayments }

func (PaymentPolicy) Attempt(ctx context.Context, svc remote.Service, e mirror.QueueEntry) (Outcome, error) {
	if err := svc.ProcessPayment(ctx, e.Args); err != nil {
		return Failed, err
	}
	return Synced, nil
}
