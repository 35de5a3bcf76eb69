package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pos-offline-core/internal/config"
	"pos-offline-core/internal/logger"
)

type envelope struct {
	msg     Message
	barrier chan struct{}
}

// Channel is the background persistence worker. It owns its goroutine and
// receives fully serialized messages, batching them before they reach the
// sink. Nothing is acknowledged back to the sender.
type Channel struct {
	sink          *Sink
	inboxSize     int
	batchSize     int
	flushInterval time.Duration

	mu      sync.RWMutex
	running bool
	inbox   chan envelope
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	abortRun atomic.Pointer[aborter]
}

// aborter cancels the worker's in-flight writes and releases senders blocked
// on a full inbox. It is fired without holding the channel lock.
type aborter struct {
	once   sync.Once
	done   chan struct{}
	cancel context.CancelFunc
}

func (a *aborter) fire() {
	a.once.Do(func() {
		close(a.done)
		a.cancel()
	})
}

func NewChannel(cfg config.PersistConfig, sink *Sink) *Channel {
	interval := cfg.GetFlushInterval()
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Channel{
		sink:          sink,
		inboxSize:     cfg.InboxSize,
		batchSize:     batchSize,
		flushInterval: interval,
	}
}

// Start launches the worker. Calling it on a running channel is a no-op.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	// A previous worker may still be draining after an abort.
	c.wg.Wait()

	stopCtx, cancel := context.WithCancel(context.Background())
	applyCtx, abort := context.WithCancel(context.Background())
	c.cancel = cancel
	c.abortRun.Store(&aborter{done: make(chan struct{}), cancel: abort})
	c.inbox = make(chan envelope, c.inboxSize)
	c.running = true

	w := &worker{channel: c, inbox: c.inbox, applyCtx: applyCtx}
	c.wg.Add(1)
	go w.run(stopCtx)
	logger.Log.Info("Started persistence channel", zap.Int("inbox", c.inboxSize))
}

// Stop refuses new messages, applies everything already received and waits
// for the worker to exit.
func (c *Channel) Stop() {
	c.stop(false)
}

func (c *Channel) stop(abort bool) {
	a := c.abortRun.Load()
	if abort && a != nil {
		a.fire()
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	if a != nil {
		a.fire()
	}
	logger.Log.Info("Stopped persistence channel", zap.Bool("aborted", abort))
}

func (c *Channel) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Send hands msg to the worker. It returns false when the channel is not
// running and the caller must write inline.
func (c *Channel) Send(msg Message) bool {
	return c.send(envelope{msg: msg})
}

// Barrier returns a channel that is closed once every message sent before
// it has been applied.
func (c *Channel) Barrier() (<-chan struct{}, bool) {
	done := make(chan struct{})
	if !c.send(envelope{barrier: done}) {
		return nil, false
	}
	return done, true
}

func (c *Channel) send(e envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running {
		return false
	}
	select {
	case c.inbox <- e:
		return true
	case <-c.abortRun.Load().done:
		return false
	}
}

// BeforeRecreate aborts in-flight writes and stops the worker so nothing
// races the store deletion. Aborted writes are not retried; the mirror
// persists its whole state again once the store is back.
func (c *Channel) BeforeRecreate() { c.stop(true) }

func (c *Channel) AfterRecreate(context.Context) { c.Start() }

type worker struct {
	channel  *Channel
	inbox    <-chan envelope
	applyCtx context.Context
	batch    []envelope
}

func (w *worker) run(ctx context.Context) {
	defer w.channel.wg.Done()

	ticker := time.NewTicker(w.channel.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-w.inbox:
			w.receive(e)

		case <-ticker.C:
			w.processBatch()

		case <-ctx.Done():
			// Senders are already refused; drain what is buffered.
			for {
				select {
				case e := <-w.inbox:
					w.receive(e)
				default:
					w.processBatch()
					return
				}
			}
		}
	}
}

func (w *worker) receive(e envelope) {
	if e.barrier != nil {
		w.processBatch()
		close(e.barrier)
		return
	}
	w.batch = append(w.batch, e)
	if len(w.batch) >= w.channel.batchSize {
		w.processBatch()
	}
}

func (w *worker) processBatch() {
	if len(w.batch) == 0 {
		return
	}

	msgs := coalesce(w.batch)
	logger.Log.Debug("Processing persistence batch",
		zap.Int("received", len(w.batch)),
		zap.Int("applied", len(msgs)),
	)

	for _, msg := range msgs {
		if err := w.channel.sink.Apply(w.applyCtx, msg); err != nil {
			writeFailuresTotal.WithLabelValues(string(msg.Type)).Inc()
			logger.Log.Error("Failed to persist message",
				zap.String("type", string(msg.Type)),
				zap.String("table", string(msg.Table)),
				zap.String("key", msg.Key),
				zap.Error(err),
			)
			continue
		}
		writesTotal.WithLabelValues("channel").Inc()
	}

	w.batch = w.batch[:0]
}

// coalesce drops persist messages superseded by a later persist of the same
// table/key. Any other message type is a boundary: nothing is merged across
// it, so deletes and clears keep their position relative to the writes.
func coalesce(batch []envelope) []Message {
	type slot struct {
		table string
		key   string
	}
	keep := make([]bool, len(batch))
	last := make(map[slot]int)
	for i, e := range batch {
		keep[i] = true
		if e.msg.Type != TypePersist {
			last = make(map[slot]int)
			continue
		}
		s := slot{string(e.msg.Table), e.msg.Key}
		if prev, ok := last[s]; ok {
			keep[prev] = false
			coalescedTotal.Inc()
		}
		last[s] = i
	}

	out := make([]Message, 0, len(batch))
	for i, e := range batch {
		if keep[i] {
			out = append(out, e.msg)
		}
	}
	return out
}
