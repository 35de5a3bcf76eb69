package persist

import (
	"context"

	"pos-offline-core/internal/store"
)

// Readier is consulted before every write; see store.Monitor.
type Readier interface {
	Ready(ctx context.Context) error
}

// Sink applies messages to the durable store under the write lock.
type Sink struct {
	store  store.Store
	health Readier
	lock   *WriteLock
}

func NewSink(s store.Store, health Readier, lock *WriteLock) *Sink {
	return &Sink{store: s, health: health, lock: lock}
}

func (s *Sink) Apply(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if s.health != nil {
		if err := s.health.Ready(ctx); err != nil {
			return err
		}
	}
	return s.lock.With(ctx, func() error {
		switch msg.Type {
		case TypePersist:
			return s.store.Put(ctx, msg.Table, store.Entry{Key: msg.Key, Value: msg.Value})
		case TypeBulkPut:
			recs := make([]store.Record, len(msg.Records))
			for i, r := range msg.Records {
				recs[i] = r
			}
			return s.store.BulkPut(ctx, msg.Table, recs)
		case TypeDelete:
			return s.store.Delete(ctx, msg.Table, msg.Key)
		default:
			return s.store.Clear(ctx, msg.Table)
		}
	})
}
