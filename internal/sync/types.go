package sync

import (
	"time"

	"pos-offline-core/internal/mirror"
)

// Entity names a reconciled queue.
type Entity string

const (
	Invoices  Entity = "invoices"
	Customers Entity = "customers"
	Payments  Entity = "payments"
)

// Outcome classifies one attempted queue entry.
type Outcome string

const (
	Synced  Outcome = "synced"
	Drafted Outcome = "drafted"
	Failed  Outcome = "failed"
)

// Result counts the outcomes of one pass. Pending is what is still queued
// from the entries the pass looked at.
type Result struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Drafted int `json:"drafted"`
	Failed  int `json:"failed"`
}

// Totals is the user-visible form of r.
func (r Result) Totals() mirror.SyncTotals {
	return mirror.SyncTotals{Pending: r.Pending, Synced: r.Synced, Drafted: r.Drafted}
}

// Clean reports a pass that emptied what it looked at without drafts.
func (r Result) Clean() bool {
	return r.Pending == 0 && r.Failed == 0 && r.Drafted == 0 && r.Synced > 0
}

func (r *Result) add(o Outcome) {
	switch o {
	case Synced:
		r.Synced++
	case Drafted:
		r.Drafted++
	default:
		r.Failed++
	}
}

// Status is a snapshot of the reconciler for the control API.
type Status struct {
	Offline bool              `json:"offline"`
	Running map[Entity]bool   `json:"running"`
	Pending map[Entity]int    `json:"pending"`
	Last    map[Entity]Result `json:"last"`
	LastRun time.Time         `json:"last_run"`
	Totals  mirror.SyncTotals `json:"totals"`
}
