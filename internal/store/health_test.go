package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
)

// faultyStore injects probe, reopen and recreate failures into a real store.
type faultyStore struct {
	*BadgerStore

	mu          sync.Mutex
	broken      bool
	reopenErr   error
	recreateErr error
	recreates   int
	reopens     int
	recreateHit chan struct{}
}

func (f *faultyStore) Probe(ctx context.Context) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errors.New("probe read failed")
	}
	return f.BadgerStore.Probe(ctx)
}

func (f *faultyStore) Reopen() error {
	f.mu.Lock()
	f.reopens++
	err := f.reopenErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.BadgerStore.Reopen()
}

func (f *faultyStore) Recreate() error {
	f.mu.Lock()
	f.recreates++
	err := f.recreateErr
	hit := f.recreateHit
	f.mu.Unlock()
	if hit != nil {
		<-hit
	}
	if err != nil {
		return err
	}
	if err := f.BadgerStore.Recreate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.broken = false
	f.reopenErr = nil
	f.mu.Unlock()
	return nil
}

func newFaultyStore(t *testing.T) *faultyStore {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	db, err := database.Open(database.Options{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewBadgerStore(context.Background(), db)
	require.NoError(t, err)
	return &faultyStore{BadgerStore: s}
}

type countingLock struct {
	mu    sync.Mutex
	locks int
}

func (l *countingLock) Lock(context.Context) error {
	l.mu.Lock()
	l.locks++
	l.mu.Unlock()
	return nil
}

func (l *countingLock) Unlock() {}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingListener) BeforeRecreate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "before")
}

func (r *recordingListener) AfterRecreate(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "after")
}

func TestCheckHealthy(t *testing.T) {
	fs := newFaultyStore(t)
	m := NewMonitor(fs, nil)

	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, Healthy, m.State())
	assert.NoError(t, m.Ready(context.Background()))
	assert.Zero(t, fs.reopens)
}

func TestCheckReopenSucceeds(t *testing.T) {
	fs := newFaultyStore(t)
	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, Cache, Entry{Key: "k", Value: json.RawMessage(`1`)}))

	// Broken only for the first probe; the reopen fixes it.
	fs.broken = true
	m := NewMonitor(&reopenFixes{fs}, nil)

	assert.True(t, m.Check(ctx))
	assert.Equal(t, Healthy, m.State())
	assert.Equal(t, 1, fs.reopens)
	assert.Zero(t, fs.recreates)

	n, err := fs.Count(ctx, Cache)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reopen must not drop data")
}

type reopenFixes struct{ *faultyStore }

func (r *reopenFixes) Reopen() error {
	err := r.faultyStore.Reopen()
	r.mu.Lock()
	r.broken = false
	r.mu.Unlock()
	return err
}

func TestCorruptionRecovery(t *testing.T) {
	fs := newFaultyStore(t)
	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, Cache, Entry{Key: "price_list_cache", Value: json.RawMessage(`{"a":1}`)}))
	require.NoError(t, fs.Put(ctx, Items, Item{ItemCode: "A"}))

	fs.broken = true
	fs.reopenErr = &database.OpenError{Kind: database.InvalidState, Err: errors.New("checksum mismatch")}

	lock := &countingLock{}
	listener := &recordingListener{}
	m := NewMonitor(fs, lock)
	m.AddListener(listener)

	assert.NotPanics(t, func() {
		assert.True(t, m.Check(ctx))
	})
	assert.Equal(t, Healthy, m.State())
	assert.Equal(t, 1, fs.recreates)
	assert.Equal(t, 1, lock.locks)
	assert.Equal(t, []string{"before", "after"}, listener.events)

	for _, tbl := range DerivedTables {
		n, err := fs.Count(ctx, tbl)
		require.NoError(t, err)
		assert.Zero(t, n, tbl)
	}
}

func TestUnknownReopenFailureKeepsData(t *testing.T) {
	fs := newFaultyStore(t)
	ctx := context.Background()

	fs.broken = true
	fs.reopenErr = &database.OpenError{Kind: database.Unknown, Err: errors.New("Cannot acquire directory lock")}

	now := time.Now()
	m := NewMonitor(fs, nil)
	m.now = func() time.Time { return now }

	assert.False(t, m.Check(ctx))
	assert.Equal(t, Unavailable, m.State())
	assert.Zero(t, fs.recreates)

	// Within the retry window nothing is attempted.
	assert.ErrorIs(t, m.Ready(ctx), ErrUnavailable)
	assert.Equal(t, 1, fs.reopens)

	fs.mu.Lock()
	fs.broken = false
	fs.mu.Unlock()
	now = now.Add(DefaultRetryAfter + time.Second)
	assert.True(t, m.Check(ctx))
	assert.Equal(t, Healthy, m.State())
}

func TestRecreateFailureIsUnavailable(t *testing.T) {
	fs := newFaultyStore(t)
	fs.broken = true
	fs.reopenErr = &database.OpenError{Kind: database.NotFound, Err: errors.New("gone")}
	fs.recreateErr = errors.New("disk full")

	m := NewMonitor(fs, nil)
	assert.False(t, m.Check(context.Background()))
	assert.Equal(t, Unavailable, m.State())
	assert.Equal(t, 1, fs.recreates)
}

func TestListenersResumeAfterFailedRecreate(t *testing.T) {
	fs := newFaultyStore(t)
	ctx := context.Background()
	fs.broken = true
	fs.reopenErr = &database.OpenError{Kind: database.NotFound, Err: errors.New("gone")}
	fs.recreateErr = errors.New("disk full")

	now := time.Now()
	listener := &recordingListener{}
	m := NewMonitor(fs, nil)
	m.now = func() time.Time { return now }
	m.AddListener(listener)

	assert.False(t, m.Check(ctx))
	assert.Equal(t, []string{"before"}, listener.events)

	fs.mu.Lock()
	fs.broken = false
	fs.mu.Unlock()
	now = now.Add(DefaultRetryAfter + time.Second)

	assert.True(t, m.Check(ctx))
	assert.Equal(t, Healthy, m.State())
	assert.Equal(t, []string{"before", "after"}, listener.events)

	assert.True(t, m.Check(ctx))
	assert.Equal(t, []string{"before", "after"}, listener.events)
}

func TestConcurrentChecksRecreateOnce(t *testing.T) {
	fs := newFaultyStore(t)
	fs.broken = true
	fs.reopenErr = &database.OpenError{Kind: database.VersionMismatch, Err: errors.New("schema 9 > 2")}
	fs.recreateHit = make(chan struct{})

	m := NewMonitor(fs, nil)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Check(context.Background())
		}()
	}

	// Let every goroutine reach the shared recovery before it completes.
	require.Eventually(t, func() bool { return m.State() == Recreating }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fs.recreateHit)
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, 1, fs.recreates)
}

func TestReadyFailsFastDuringRecovery(t *testing.T) {
	fs := newFaultyStore(t)
	m := NewMonitor(fs, nil)
	m.setState(Recreating)

	err := m.Ready(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
