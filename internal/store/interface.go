package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrUnknownIndex = errors.New("unknown index")
	// ErrUnavailable is returned while the store is recovering or after a
	// recovery failed; callers degrade to memory-only operation.
	ErrUnavailable = errors.New("store unavailable")
)

// ScanFunc receives each record's key and JSON body. Returning false stops
// the scan.
type ScanFunc func(key string, raw json.RawMessage) (bool, error)

// Store is the durable table store.
type Store interface {
	Get(ctx context.Context, table Table, key string, out interface{}) (bool, error)
	Put(ctx context.Context, table Table, rec Record) error
	BulkPut(ctx context.Context, table Table, recs []Record) error
	Scan(ctx context.Context, table Table, fn ScanFunc) error
	ScanIndex(ctx context.Context, table Table, index, value string, prefix bool, fn ScanFunc) error
	Delete(ctx context.Context, table Table, key string) error
	DeleteWhere(ctx context.Context, table Table, pred func(key string, raw json.RawMessage) bool) (int, error)
	Clear(ctx context.Context, table Table) error
	Count(ctx context.Context, table Table) (int, error)

	// Probe is the cheap health read used by the Monitor.
	Probe(ctx context.Context) error
	Reopen() error
	Recreate() error
	Size() int64
	Close() error
}
