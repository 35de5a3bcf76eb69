package mirror

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
)

// profileKeys are the POS profile fields a queued payment keeps.
var profileKeys = []string{
	"posa_use_pos_awesome_payments",
	"posa_allow_make_new_payments",
	"posa_allow_reconcile_payments",
	"posa_allow_mpesa_reconcile_payments",
	"cost_center",
	"posa_cash_mode_of_payment",
	"name",
}

type invoiceShape struct {
	Items []interface{} `validate:"required,min=1"`
}

// EnqueueInvoice queues an offline invoice and deducts its lines from the
// local stock cache. The invoice must have at least one line and, unless the
// opening profile allows negative stock, enough cached stock for every line.
func (m *Mirror) EnqueueInvoice(invoice, data Document) (QueueEntry, error) {
	inv, err := cloneIn(OfflineInvoices, invoice)
	if err != nil {
		return QueueEntry{}, err
	}
	d, err := cloneIn(OfflineInvoices, data)
	if err != nil {
		return QueueEntry{}, err
	}
	items, _ := inv["items"].([]interface{})
	if err := m.validate.Struct(invoiceShape{Items: items}); err != nil {
		return QueueEntry{}, ErrEmptyCart
	}
	lines := stockLines(items)

	var entry QueueEntry
	err = m.update(func(s *state) error {
		if !allowNegativeStock(s) {
			if err := validateStock(s, lines); err != nil {
				return err
			}
		}
		entry = m.newEntry()
		entry.Invoice = inv
		entry.Data = d
		m.appendLocked(s, OfflineInvoices, entry)
		deductStock(s, lines, m.now())
		return nil
	}, OfflineInvoices, LocalStockCache)
	if err != nil {
		return QueueEntry{}, err
	}
	return entry, nil
}

// EnqueueCustomer queues a customer creation request.
func (m *Mirror) EnqueueCustomer(args Document) (QueueEntry, error) {
	a, err := cloneIn(OfflineCustomers, args)
	if err != nil {
		return QueueEntry{}, err
	}
	return m.enqueue(OfflineCustomers, a)
}

// EnqueuePayment queues a payment request. The embedded POS profile is cut
// down to the fields the payment call uses.
func (m *Mirror) EnqueuePayment(args Document) (QueueEntry, error) {
	a, err := cloneIn(OfflinePayments, args)
	if err != nil {
		return QueueEntry{}, err
	}
	if payload, ok := a["payload"].(map[string]interface{}); ok {
		if profile, ok := payload["pos_profile"].(map[string]interface{}); ok {
			trimmed := make(map[string]interface{}, len(profileKeys))
			for _, k := range profileKeys {
				if v, ok := profile[k]; ok {
					trimmed[k] = v
				}
			}
			payload["pos_profile"] = trimmed
		}
	}
	return m.enqueue(OfflinePayments, a)
}

func (m *Mirror) enqueue(q Field, args Document) (QueueEntry, error) {
	var entry QueueEntry
	err := m.update(func(s *state) error {
		entry = m.newEntry()
		entry.Args = args
		m.appendLocked(s, q, entry)
		return nil
	}, q)
	if err != nil {
		return QueueEntry{}, err
	}
	return entry, nil
}

func (m *Mirror) newEntry() QueueEntry {
	return QueueEntry{ID: uuid.NewString(), QueuedAt: m.now().UTC()}
}

// appendLocked adds e to queue q, dropping the oldest entries beyond the cap.
func (m *Mirror) appendLocked(s *state, q Field, e QueueEntry) {
	list := s.queue(q)
	*list = append(*list, e)
	if over := len(*list) - m.opts.QueueCap; over > 0 {
		logger.Log.Warn("Offline queue over capacity, dropping oldest entries",
			zap.String("queue", string(q)), zap.Int("dropped", over))
		*list = append([]QueueEntry{}, (*list)[over:]...)
	}
}

// Queued returns a copy of queue q.
func (m *Mirror) Queued(q Field) ([]QueueEntry, error) {
	if !isQueue(q) {
		return nil, fmt.Errorf("%w: %s", ErrNotQueue, q)
	}
	return read(m, func(s *state) []QueueEntry { return *s.queue(q) }), nil
}

func (m *Mirror) PendingCount(q Field) int {
	if !isQueue(q) {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(*m.st.queue(q))
}

// DeleteQueued removes the entry at index. Out-of-range indexes are ignored.
func (m *Mirror) DeleteQueued(q Field, index int) error {
	if !isQueue(q) {
		return fmt.Errorf("%w: %s", ErrNotQueue, q)
	}
	return m.update(func(s *state) error {
		list := s.queue(q)
		if index < 0 || index >= len(*list) {
			return nil
		}
		*list = append((*list)[:index:index], (*list)[index+1:]...)
		return nil
	}, q)
}

func (m *Mirror) ClearQueue(q Field) error {
	if !isQueue(q) {
		return fmt.Errorf("%w: %s", ErrNotQueue, q)
	}
	return m.update(func(s *state) error {
		*s.queue(q) = []QueueEntry{}
		return nil
	}, q)
}

// Settle removes the entries whose IDs are in done and records the error of
// the entries in failed. Other entries, including ones queued while the
// caller was working, are kept in their original order.
func (m *Mirror) Settle(q Field, done []string, failed map[string]string) error {
	if !isQueue(q) {
		return fmt.Errorf("%w: %s", ErrNotQueue, q)
	}
	remove := make(map[string]bool, len(done))
	for _, id := range done {
		remove[id] = true
	}
	return m.update(func(s *state) error {
		list := s.queue(q)
		kept := make([]QueueEntry, 0, len(*list))
		for _, e := range *list {
			if remove[e.ID] {
				continue
			}
			if msg, ok := failed[e.ID]; ok {
				e.Attempts++
				e.LastError = msg
			}
			kept = append(kept, e)
		}
		*list = kept
		return nil
	}, q)
}

// RenameInvoiceCustomer points queued invoices of oldName at newName, which
// happens once an offline customer is created on the server. It returns the
// number of invoices changed.
func (m *Mirror) RenameInvoiceCustomer(oldName, newName string) (int, error) {
	changed := 0
	errNothing := errors.New("nothing to rename")
	err := m.update(func(s *state) error {
		for _, e := range s.OfflineInvoices {
			if e.Invoice == nil || e.Invoice["customer"] != oldName {
				continue
			}
			e.Invoice["customer"] = newName
			if name, ok := e.Invoice["customer_name"].(string); ok && name != "" {
				e.Invoice["customer_name"] = newName
			}
			changed++
		}
		if changed == 0 {
			return errNothing
		}
		return nil
	}, OfflineInvoices)
	if errors.Is(err, errNothing) {
		return 0, nil
	}
	return changed, err
}

// QueueOverCap reports whether any queue holds more than limit entries.
func (m *Mirror) QueueOverCap(limit int) bool {
	if limit <= 0 {
		limit = m.opts.QueueCap
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.st.OfflineInvoices) > limit ||
		len(m.st.OfflineCustomers) > limit ||
		len(m.st.OfflinePayments) > limit
}

// PurgeOldQueueEntries trims every queue to its newest limit entries.
func (m *Mirror) PurgeOldQueueEntries(limit int) error {
	if limit <= 0 {
		limit = m.opts.QueueCap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range []Field{OfflineInvoices, OfflineCustomers, OfflinePayments} {
		list := m.st.queue(q)
		over := len(*list) - limit
		if over <= 0 {
			continue
		}
		*list = append([]QueueEntry{}, (*list)[over:]...)
		logger.Log.Warn("Purged old queue entries", zap.String("queue", string(q)), zap.Int("dropped", over))
		if err := m.persistLocked(q); err != nil {
			return err
		}
	}
	return nil
}
