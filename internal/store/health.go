package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
)

// State is a position in the health state machine.
type State int32

const (
	Healthy State = iota
	Suspect
	Reopening
	Recreating
	Unavailable
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Suspect:
		return "suspect"
	case Reopening:
		return "reopening"
	case Recreating:
		return "recreating"
	case Unavailable:
		return "unavailable"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Locker guards the store write path. Recreation holds it so no write lands
// on a store that is being deleted.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock()
}

// Listener is notified around a destructive recreation.
type Listener interface {
	BeforeRecreate()
	AfterRecreate(ctx context.Context)
}

// DefaultRetryAfter is how long an Unavailable store is left alone before a
// Check attempts recovery again.
const DefaultRetryAfter = 30 * time.Second

// Monitor probes the store and drives reopen/recreate recovery.
type Monitor struct {
	store Store
	lock  Locker

	state      atomic.Int32
	group      singleflight.Group
	retryAfter time.Duration
	failedAt   atomic.Int64
	now        func() time.Time

	// restorePending is set when listeners saw BeforeRecreate but the
	// recreation failed. They get AfterRecreate once the store serves again.
	restorePending atomic.Bool

	mu        sync.Mutex
	listeners []Listener
}

func NewMonitor(s Store, lock Locker) *Monitor {
	m := &Monitor{
		store:      s,
		lock:       lock,
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
	}
	healthState.Set(float64(Healthy))
	return m
}

func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	healthTransitionsTotal.WithLabelValues(s.String()).Inc()
	healthState.Set(float64(s))
	logger.Log.Info("Store health changed", zap.String("state", s.String()))
}

// Ready is called before every persistence write. It fails fast while a
// recovery is in flight instead of waiting for it.
func (m *Monitor) Ready(ctx context.Context) error {
	switch m.State() {
	case Reopening, Recreating:
		return fmt.Errorf("%w: recovery in progress", ErrUnavailable)
	}
	if !m.Check(ctx) {
		return ErrUnavailable
	}
	return nil
}

// Check probes the store and, on failure, runs recovery. Concurrent callers
// share one in-flight recovery; a caller whose ctx ends stops waiting for it
// without cancelling it. Check never panics and reports whether the store is
// usable.
func (m *Monitor) Check(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Health check panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	if m.State() == Unavailable {
		since := m.now().Sub(time.Unix(0, m.failedAt.Load()))
		if since < m.retryAfter {
			return false
		}
	}

	err := m.store.Probe(ctx)
	if err == nil {
		if m.State() != Healthy {
			m.setState(Healthy)
		}
		if m.restorePending.Load() {
			m.shared(ctx, m.restoreListeners)
		}
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	logger.Log.Warn("Store probe failed", zap.Error(err))
	return m.shared(ctx, m.heal)
}

// Recreate deletes and recreates the store on request, notifying listeners
// the same way a corruption recovery does.
func (m *Monitor) Recreate(ctx context.Context) error {
	if !m.shared(ctx, m.recreate) {
		return ErrUnavailable
	}
	return nil
}

func (m *Monitor) shared(ctx context.Context, fn func() bool) bool {
	ch := m.group.DoChan("recover", func() (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Error("Store recovery panicked", zap.Any("panic", r))
				m.markUnavailable()
				v = false
			}
		}()
		return fn(), nil
	})
	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

func (m *Monitor) heal() bool {
	m.setState(Suspect)

	m.setState(Reopening)
	err := m.store.Reopen()
	if err == nil {
		if err = m.store.Probe(context.Background()); err == nil {
			m.setState(Healthy)
			return m.restoreListeners()
		}
		// A store that reopens cleanly but still cannot serve a read is in an
		// invalid internal state.
		err = &database.OpenError{Kind: database.InvalidState, Err: err}
	}

	if !database.IsCorrupt(err) {
		logger.Log.Error("Store reopen failed, leaving data in place",
			zap.String("kind", database.KindOf(err).String()),
			zap.Error(err),
		)
		m.markUnavailable()
		return false
	}

	logger.Log.Warn("Store reopen failed with corruption, recreating",
		zap.String("kind", database.KindOf(err).String()),
		zap.Error(err),
	)
	return m.recreate()
}

func (m *Monitor) recreate() bool {
	m.setState(Recreating)
	listeners := m.snapshotListeners()
	for _, l := range listeners {
		l.BeforeRecreate()
	}

	err := m.withLock(m.store.Recreate)
	if err != nil {
		logger.Log.Error("Store recreation failed, degrading to memory-only", zap.Error(err))
		m.restorePending.Store(true)
		m.markUnavailable()
		return false
	}
	recreationsTotal.Inc()
	m.restorePending.Store(false)
	m.setState(Healthy)

	for _, l := range listeners {
		l.AfterRecreate(context.Background())
	}
	return true
}

// restoreListeners finishes a recreation that failed earlier: the store is
// usable again, so listeners stopped by BeforeRecreate are resumed.
func (m *Monitor) restoreListeners() bool {
	if !m.restorePending.CompareAndSwap(true, false) {
		return true
	}
	logger.Log.Info("Store usable again, resuming listeners stopped for recreation")
	for _, l := range m.snapshotListeners() {
		l.AfterRecreate(context.Background())
	}
	return true
}

func (m *Monitor) withLock(fn func() error) error {
	if m.lock == nil {
		return fn()
	}
	if err := m.lock.Lock(context.Background()); err != nil {
		return err
	}
	defer m.lock.Unlock()
	return fn()
}

func (m *Monitor) markUnavailable() {
	m.failedAt.Store(m.now().UnixNano())
	m.setState(Unavailable)
}

func (m *Monitor) snapshotListeners() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Listener(nil), m.listeners...)
}
