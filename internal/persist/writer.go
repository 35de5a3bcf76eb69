package persist

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/store"
)

// Pending resolves when a scheduled write has been handed to the channel or,
// on the inline path, applied to the store.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the write settles and returns its error, if any.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type op struct {
	msg     Message
	barrier bool
	pending *Pending
}

// Writer is the write serializer. Scheduled operations form a single ordered
// chain drained by one goroutine; each starts only after the previous one
// settled, and a failing operation is logged without stalling the chain.
type Writer struct {
	sink    *Sink
	channel *Channel

	mu     sync.Mutex
	queue  []op
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewWriter starts the serializer. channel may be nil, in which case every
// write is applied inline.
func NewWriter(sink *Sink, channel *Channel) *Writer {
	w := &Writer{
		sink:    sink,
		channel: channel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Schedule converts value to its portable form and queues a persist of it.
// A value that cannot be converted is rejected here, before anything is
// queued.
func (w *Writer) Schedule(table store.Table, key string, value interface{}) (*Pending, error) {
	raw, err := ToPortable(value)
	if err != nil {
		var se *SerializationError
		if errors.As(err, &se) {
			se.Key = key
		}
		return nil, err
	}
	return w.Write(PersistMessage(table, key, raw)), nil
}

// Write queues a prebuilt message. The message must already be portable.
func (w *Writer) Write(msg Message) *Pending {
	return w.enqueue(op{msg: msg, pending: newPending()})
}

// Flush waits until everything scheduled before it is applied to the store.
func (w *Writer) Flush(ctx context.Context) error {
	return w.enqueue(op{barrier: true, pending: newPending()}).Wait(ctx)
}

// Close drains the chain and stops the serializer. Later writes are applied
// inline on the caller's goroutine.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.done
}

func (w *Writer) enqueue(o op) *Pending {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.apply(o)
		return o.pending
	}
	w.queue = append(w.queue, o)
	w.mu.Unlock()
	w.signal()
	return o.pending
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		o := w.queue[0]
		w.queue[0] = op{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.apply(o)
	}
}

func (w *Writer) apply(o op) {
	if o.barrier {
		if w.channel != nil {
			if done, ok := w.channel.Barrier(); ok {
				<-done
			}
		}
		o.pending.resolve(nil)
		return
	}

	if w.channel != nil && w.channel.Send(o.msg) {
		o.pending.resolve(nil)
		return
	}

	err := w.sink.Apply(context.Background(), o.msg)
	if err != nil {
		writeFailuresTotal.WithLabelValues(string(o.msg.Type)).Inc()
		logger.Log.Error("Inline persist failed",
			zap.String("type", string(o.msg.Type)),
			zap.String("table", string(o.msg.Table)),
			zap.String("key", o.msg.Key),
			zap.Error(err),
		)
	} else {
		writesTotal.WithLabelValues("inline").Inc()
	}
	o.pending.resolve(err)
}
