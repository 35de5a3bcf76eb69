// Package sync drains the offline queues against the backend.
package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"pos-offline-core/internal/config"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/mirror"
	"pos-offline-core/internal/remote"
)

// StockChunkSize bounds the item codes asked for in one stock call.
const StockChunkSize = 100

var ErrOffline = errors.New("offline")

// Queues is the part of the memory mirror the reconciler works on.
type Queues interface {
	Queued(q mirror.Field) ([]mirror.QueueEntry, error)
	PendingCount(q mirror.Field) int
	Settle(q mirror.Field, done []string, failed map[string]string) error
	LastSyncTotals() mirror.SyncTotals
	SetLastSyncTotals(t mirror.SyncTotals) error
	RenameInvoiceCustomer(oldName, newName string) (int, error)
	ReduceCacheUsage() error
	OpeningStorage() mirror.Document
	MissingStock(itemCodes []string) []string
	RefreshStock(levels []mirror.StockLevel) error
}

// Offline reports whether the backend may be called.
type Offline interface {
	IsOffline() bool
}

// Shrinker is a derived cache that is emptied after a clean invoice pass.
type Shrinker interface {
	Name() string
	Shrink(ctx context.Context) error
}

// Reconciler runs one pass per queue at a time. A pass requested while
// another pass of the same queue is running returns the pending count
// without calling the backend.
type Reconciler struct {
	mirror    Queues
	remote    remote.Service
	offline   Offline
	shrink    bool
	shrinkers []Shrinker

	invoices  Policy
	customers Policy
	payments  Policy

	guards map[Entity]*atomic.Bool
	// customerStage serializes customer passes. Invoice and payment passes
	// wait on it so they never read entries a running customer pass is
	// about to rewrite.
	customerStage *semaphore.Weighted

	mu      sync.Mutex
	last    map[Entity]Result
	lastRun time.Time
}

func NewReconciler(cfg config.SyncConfig, m Queues, svc remote.Service, offline Offline, shrinkers ...Shrinker) *Reconciler {
	return &Reconciler{
		mirror:    m,
		remote:    svc,
		offline:   offline,
		shrink:    cfg.ShrinkAfterCleanSync,
		shrinkers: shrinkers,
		invoices:  InvoicePolicy{},
		customers: CustomerPolicy{Renamer: m},
		payments:  PaymentPolicy{},
		guards: map[Entity]*atomic.Bool{
			Invoices:  new(atomic.Bool),
			Customers: new(atomic.Bool),
			Payments:  new(atomic.Bool),
		},
		customerStage: semaphore.NewWeighted(1),
		last:          make(map[Entity]Result),
	}
}

// SyncInvoices reconciles queued customers and then queued invoices.
func (r *Reconciler) SyncInvoices(ctx context.Context) (Result, error) {
	guard := r.guards[Invoices]
	if !guard.CompareAndSwap(false, true) {
		skippedTotal.WithLabelValues(string(Invoices), "running").Inc()
		return Result{Pending: r.mirror.PendingCount(mirror.OfflineInvoices)}, nil
	}
	defer guard.Store(false)

	// Invoices may name a customer created offline.
	if _, err := r.awaitCustomers(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{Pending: r.mirror.PendingCount(mirror.OfflineInvoices)}, err
		}
		logger.Log.Error("Customer reconciliation failed", zap.Error(err))
	}

	entries, err := r.mirror.Queued(mirror.OfflineInvoices)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		skippedTotal.WithLabelValues(string(Invoices), "empty").Inc()
		return Result{}, r.mirror.SetLastSyncTotals(mirror.SyncTotals{})
	}
	if r.offline.IsOffline() {
		skippedTotal.WithLabelValues(string(Invoices), "offline").Inc()
		return Result{Pending: len(entries)}, nil
	}

	res, err := r.pass(ctx, r.invoices, entries)
	if err != nil {
		return res, err
	}

	if res.Clean() && ctx.Err() == nil && r.shrink {
		r.shrinkCaches(ctx)
	}

	totals := mirror.SyncTotals{}
	if res.Pending > 0 || res.Drafted > 0 {
		totals = res.Totals()
	}
	if err := r.mirror.SetLastSyncTotals(totals); err != nil {
		logger.Log.Error("Failed to store sync totals", zap.Error(err))
	}
	return res, nil
}

// SyncCustomers creates queued customers on the backend. It returns the
// pending count at once when a customer pass is already running.
func (r *Reconciler) SyncCustomers(ctx context.Context) (Result, error) {
	if !r.customerStage.TryAcquire(1) {
		skippedTotal.WithLabelValues(string(Customers), "running").Inc()
		return Result{Pending: r.mirror.PendingCount(mirror.OfflineCustomers)}, nil
	}
	defer r.customerStage.Release(1)
	return r.syncQueue(ctx, r.customers)
}

// awaitCustomers waits for any running customer pass and then runs one
// itself.
func (r *Reconciler) awaitCustomers(ctx context.Context) (Result, error) {
	if err := r.customerStage.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer r.customerStage.Release(1)
	return r.syncQueue(ctx, r.customers)
}

// SyncPayments reconciles queued customers and then queued payments.
func (r *Reconciler) SyncPayments(ctx context.Context) (Result, error) {
	if _, err := r.awaitCustomers(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{Pending: r.mirror.PendingCount(mirror.OfflinePayments)}, err
		}
		logger.Log.Error("Customer reconciliation failed", zap.Error(err))
	}
	return r.syncQueue(ctx, r.payments)
}

// SyncAll runs customers, invoices and payments in that order.
func (r *Reconciler) SyncAll(ctx context.Context) (map[Entity]Result, error) {
	out := make(map[Entity]Result, 3)
	var errs []error

	cust, err := r.SyncCustomers(ctx)
	out[Customers] = cust
	errs = append(errs, err)

	inv, err := r.SyncInvoices(ctx)
	out[Invoices] = inv
	errs = append(errs, err)

	pay, err := r.SyncPayments(ctx)
	out[Payments] = pay
	errs = append(errs, err)

	return out, errors.Join(errs...)
}

func (r *Reconciler) syncQueue(ctx context.Context, p Policy) (Result, error) {
	entity := p.Entity()
	guard := r.guards[entity]
	if !guard.CompareAndSwap(false, true) {
		skippedTotal.WithLabelValues(string(entity), "running").Inc()
		return Result{Pending: r.mirror.PendingCount(p.Queue())}, nil
	}
	defer guard.Store(false)

	entries, err := r.mirror.Queued(p.Queue())
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		skippedTotal.WithLabelValues(string(entity), "empty").Inc()
		return Result{}, nil
	}
	if r.offline.IsOffline() {
		skippedTotal.WithLabelValues(string(entity), "offline").Inc()
		return Result{Pending: len(entries)}, nil
	}
	return r.pass(ctx, p, entries)
}

// pass attempts every entry once and settles the queue by entry ID, so
// entries queued meanwhile stay behind the retained failures.
func (r *Reconciler) pass(ctx context.Context, p Policy, entries []mirror.QueueEntry) (Result, error) {
	entity := p.Entity()
	start := time.Now()
	var (
		res    Result
		done   = make([]string, 0, len(entries))
		failed = make(map[string]string)
	)

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		outcome, err := p.Attempt(ctx, r.remote, e)
		res.add(outcome)
		entriesTotal.WithLabelValues(string(entity), string(outcome)).Inc()
		if outcome != Failed {
			done = append(done, e.ID)
			continue
		}
		msg := "failed"
		if err != nil {
			msg = err.Error()
		}
		failed[e.ID] = msg
		logger.Log.Warn("Queued entry kept for the next pass",
			zap.String("entity", string(entity)),
			zap.String("entry", e.ID),
			zap.Int("attempts", e.Attempts+1),
			zap.Error(err),
		)
	}
	res.Pending = len(entries) - res.Synced - res.Drafted
	passDuration.WithLabelValues(string(entity)).Observe(time.Since(start).Seconds())

	if err := r.mirror.Settle(p.Queue(), done, failed); err != nil {
		logger.Log.Error("Failed to settle queue",
			zap.String("entity", string(entity)), zap.Error(err))
		return res, err
	}
	pendingGauge.WithLabelValues(string(entity)).Set(float64(r.mirror.PendingCount(p.Queue())))
	r.record(entity, res)

	logger.Log.Info("Reconciliation pass finished",
		zap.String("entity", string(entity)),
		zap.Int("synced", res.Synced),
		zap.Int("drafted", res.Drafted),
		zap.Int("failed", res.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (r *Reconciler) shrinkCaches(ctx context.Context) {
	if err := r.mirror.ReduceCacheUsage(); err != nil {
		logger.Log.Error("Failed to reduce mirror cache usage", zap.Error(err))
	}
	for _, s := range r.shrinkers {
		if err := s.Shrink(ctx); err != nil {
			logger.Log.Error("Failed to shrink cache", zap.String("cache", s.Name()), zap.Error(err))
		}
	}
	logger.Log.Info("Shrunk derived caches after clean sync", zap.Int("caches", len(r.shrinkers)))
}

func (r *Reconciler) record(e Entity, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[e] = res
	r.lastRun = time.Now()
}

// RefreshStock asks the backend for the quantities of the codes that have
// no local snapshot yet and stores them. It returns the number of
// quantities stored.
func (r *Reconciler) RefreshStock(ctx context.Context, itemCodes []string) (int, error) {
	missing := r.mirror.MissingStock(itemCodes)
	if len(missing) == 0 {
		return 0, nil
	}
	if r.offline.IsOffline() {
		return 0, ErrOffline
	}
	profile, _ := r.mirror.OpeningStorage()["pos_profile"].(map[string]interface{})
	if profile == nil {
		profile = map[string]interface{}{}
	}

	var (
		levels []mirror.StockLevel
		errs   []error
	)
	for start := 0; start < len(missing); start += StockChunkSize {
		end := start + StockChunkSize
		if end > len(missing) {
			end = len(missing)
		}
		stock, err := r.remote.ItemStock(ctx, profile, missing[start:end])
		if err != nil {
			logger.Log.Warn("Failed to fetch item stock", zap.Int("items", end-start), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, s := range stock {
			levels = append(levels, mirror.StockLevel{ItemCode: s.ItemCode, ActualQty: s.ActualQty})
		}
	}
	if len(levels) > 0 {
		if err := r.mirror.RefreshStock(levels); err != nil {
			return 0, err
		}
	}
	return len(levels), errors.Join(errs...)
}

// Running reports whether any pass is in flight.
func (r *Reconciler) Running() bool {
	for _, g := range r.guards {
		if g.Load() {
			return true
		}
	}
	return false
}

func (r *Reconciler) Status() Status {
	st := Status{
		Offline: r.offline.IsOffline(),
		Running: make(map[Entity]bool, len(r.guards)),
		Pending: map[Entity]int{
			Invoices:  r.mirror.PendingCount(mirror.OfflineInvoices),
			Customers: r.mirror.PendingCount(mirror.OfflineCustomers),
			Payments:  r.mirror.PendingCount(mirror.OfflinePayments),
		},
		Last:   make(map[Entity]Result),
		Totals: r.mirror.LastSyncTotals(),
	}
	for e, g := range r.guards {
		st.Running[e] = g.Load()
	}
	r.mu.Lock()
	for e, res := range r.last {
		st.Last[e] = res
	}
	st.LastRun = r.lastRun
	r.mu.Unlock()
	return st
}
