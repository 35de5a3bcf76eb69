package cache

import (
	"context"
	"encoding/json"
	"strings"

	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/store"
)

// Backing is the durable tier. Reads go to the store directly; writes go
// through the write serializer.
type Backing[T any] interface {
	Load(ctx context.Context, key string) (Entry[T], bool, error)
	Store(ctx context.Context, key string, e Entry[T]) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// TableBacking keeps entries in the cache table under "<namespace>:<key>".
type TableBacking[T any] struct {
	namespace string
	store     store.Store
	writer    *persist.Writer
}

func NewTableBacking[T any](namespace string, s store.Store, w *persist.Writer) *TableBacking[T] {
	return &TableBacking[T]{namespace: namespace, store: s, writer: w}
}

func (b *TableBacking[T]) key(k string) string { return b.namespace + ":" + k }

func (b *TableBacking[T]) Load(ctx context.Context, key string) (Entry[T], bool, error) {
	var e Entry[T]
	var rec store.Entry
	found, err := b.store.Get(ctx, store.Cache, b.key(key), &rec)
	if err != nil || !found {
		return e, false, err
	}
	if err := persist.Decode(rec.Value, &e); err != nil {
		return e, false, err
	}
	return e, true, nil
}

func (b *TableBacking[T]) Store(_ context.Context, key string, e Entry[T]) error {
	_, err := b.writer.Schedule(store.Cache, b.key(key), e)
	return err
}

func (b *TableBacking[T]) Delete(_ context.Context, key string) error {
	b.writer.Write(persist.DeleteMessage(store.Cache, b.key(key)))
	return nil
}

// Clear deletes every entry of the namespace. Other users of the cache
// table are left alone.
func (b *TableBacking[T]) Clear(ctx context.Context) error {
	prefix := b.namespace + ":"
	var keys []string
	err := b.store.Scan(ctx, store.Cache, func(key string, _ json.RawMessage) (bool, error) {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		b.writer.Write(persist.DeleteMessage(store.Cache, k))
	}
	return nil
}
