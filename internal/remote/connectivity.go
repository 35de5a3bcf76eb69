package remote

import (
	"sync"

	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
)

// ManualFlag reports the user's manual offline switch; see mirror.Mirror.
type ManualFlag interface {
	ManualOffline() bool
}

// Connectivity decides whether the reconciler may call the backend. The
// server reachability itself is reported from outside.
type Connectivity struct {
	manual ManualFlag

	mu        sync.Mutex
	online    bool
	stopped   bool
	listeners []func()
	running   sync.WaitGroup
}

func NewConnectivity(manual ManualFlag) *Connectivity {
	return &Connectivity{manual: manual, online: true}
}

// IsOffline is true when the user forced offline mode or the server is
// unreachable.
func (c *Connectivity) IsOffline() bool {
	if c.manual != nil && c.manual.ManualOffline() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.online
}

func (c *Connectivity) ServerOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// OnReconnect registers fn to run, on its own goroutine, each time the
// server comes back online.
func (c *Connectivity) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SetServerOnline records the server state and fires the reconnect
// listeners on an offline to online transition.
func (c *Connectivity) SetServerOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.online
	c.online = online
	if was == online {
		return
	}
	logger.Log.Info("Server connectivity changed", zap.Bool("online", online))
	if !online || c.stopped {
		return
	}
	for _, fn := range c.listeners {
		c.running.Add(1)
		go func(fn func()) {
			defer c.running.Done()
			fn()
		}(fn)
	}
}

// Stop fires no more reconnect listeners and waits for the running ones.
func (c *Connectivity) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.running.Wait()
}
