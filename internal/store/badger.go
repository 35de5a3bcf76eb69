package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
)

// BulkChunkSize bounds the number of records written per transaction.
const BulkChunkSize = 1000

// BadgerStore implements Store on top of an embedded badger database.
type BadgerStore struct {
	db *database.Database
}

// NewBadgerStore wraps db and brings its schema up to date.
func NewBadgerStore(ctx context.Context, db *database.Database) (*BadgerStore, error) {
	s := &BadgerStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func checkTable(t Table) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTable, t)
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, t Table, key string, out interface{}) (bool, error) {
	if err := checkTable(t); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(primaryKey(t, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return decodeValue(val, out)
		})
	})
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", t, key, err)
	}
	return found, nil
}

func (s *BadgerStore) Put(ctx context.Context, t Table, rec Record) error {
	if err := checkTable(t); err != nil {
		return err
	}
	raw, err := Raw(rec)
	if err != nil {
		return err
	}
	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		return putRaw(txn, t, raw)
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", t, raw.Key, err)
	}
	return nil
}

func (s *BadgerStore) BulkPut(ctx context.Context, t Table, recs []Record) error {
	if err := checkTable(t); err != nil {
		return err
	}
	raws := make([]RawRecord, 0, len(recs))
	for _, rec := range recs {
		raw, err := Raw(rec)
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}
	for start := 0; start < len(raws); start += BulkChunkSize {
		end := start + BulkChunkSize
		if end > len(raws) {
			end = len(raws)
		}
		if err := s.putChunk(ctx, t, raws[start:end]); err != nil {
			return fmt.Errorf("bulk put %s: %w", t, err)
		}
	}
	return nil
}

// putChunk writes recs in one transaction, halving the chunk when badger
// reports the transaction as too big.
func (s *BadgerStore) putChunk(ctx context.Context, t Table, recs []RawRecord) error {
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		for _, raw := range recs {
			if err := putRaw(txn, t, raw); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) && len(recs) > 1 {
		mid := len(recs) / 2
		if err := s.putChunk(ctx, t, recs[:mid]); err != nil {
			return err
		}
		return s.putChunk(ctx, t, recs[mid:])
	}
	return err
}

// putRaw writes the primary record and replaces its secondary index entries.
func putRaw(txn *badger.Txn, t Table, raw RawRecord) error {
	if raw.Key == "" {
		return errors.New("record has empty primary key")
	}
	if err := dropIndexEntries(txn, t, raw.Key); err != nil {
		return err
	}
	if err := txn.Set(primaryKey(t, raw.Key), encodeRaw(raw.Body)); err != nil {
		return err
	}
	if len(t.Indexes()) == 0 {
		return nil
	}

	written := make(map[string][]string)
	for _, name := range t.Indexes() {
		seen := make(map[string]bool)
		for _, v := range raw.Indexes[name] {
			nv := normalizeIndexValue(v)
			if nv == "" || seen[nv] {
				continue
			}
			seen[nv] = true
			if err := txn.Set(indexKey(t, name, nv, raw.Key), nil); err != nil {
				return err
			}
			written[name] = append(written[name], nv)
		}
	}
	enc, err := encodeValue(written)
	if err != nil {
		return err
	}
	return txn.Set(indexRecKey(t, raw.Key), enc)
}

func dropIndexEntries(txn *badger.Txn, t Table, pk string) error {
	if len(t.Indexes()) == 0 {
		return nil
	}
	item, err := txn.Get(indexRecKey(t, pk))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var old map[string][]string
	if err := item.Value(func(val []byte) error { return decodeValue(val, &old) }); err != nil {
		return err
	}
	for name, values := range old {
		for _, v := range values {
			if err := txn.Delete(indexKey(t, name, v, pk)); err != nil {
				return err
			}
		}
	}
	return txn.Delete(indexRecKey(t, pk))
}

func (s *BadgerStore) Scan(ctx context.Context, t Table, fn ScanFunc) error {
	if err := checkTable(t); err != nil {
		return err
	}
	prefix := tablePrefix(t)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			raw, err := decodeRaw(val)
			if err != nil {
				return err
			}
			key := string(bytes.TrimPrefix(item.Key(), prefix))
			more, err := fn(key, raw)
			if err != nil || !more {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", t, err)
	}
	return nil
}

// ScanIndex visits the records whose index value equals value, or starts
// with it when prefix is set. Matching is case-insensitive. Each record is
// visited once even when several of its values match.
func (s *BadgerStore) ScanIndex(ctx context.Context, t Table, index, value string, prefix bool, fn ScanFunc) error {
	if err := checkTable(t); err != nil {
		return err
	}
	if !t.HasIndex(index) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownIndex, t, index)
	}
	ip := indexPrefix(t, index, value, prefix)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = ip
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := make(map[string]bool)
		for it.Rewind(); it.ValidForPrefix(ip); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			pk := pkFromIndexKey(it.Item().Key())
			if pk == "" || seen[pk] {
				continue
			}
			seen[pk] = true

			item, err := txn.Get(primaryKey(t, pk))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			raw, err := decodeRaw(val)
			if err != nil {
				return err
			}
			more, err := fn(pk, raw)
			if err != nil || !more {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan index %s.%s: %w", t, index, err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, t Table, key string) error {
	if err := checkTable(t); err != nil {
		return err
	}
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		if err := dropIndexEntries(txn, t, key); err != nil {
			return err
		}
		return txn.Delete(primaryKey(t, key))
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", t, key, err)
	}
	return nil
}

func (s *BadgerStore) DeleteWhere(ctx context.Context, t Table, pred func(key string, raw json.RawMessage) bool) (int, error) {
	var keys []string
	err := s.Scan(ctx, t, func(key string, raw json.RawMessage) (bool, error) {
		if pred(key, raw) {
			keys = append(keys, key)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(keys); start += BulkChunkSize {
		end := start + BulkChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		err := s.db.Update(ctx, func(txn *badger.Txn) error {
			for _, key := range chunk {
				if err := dropIndexEntries(txn, t, key); err != nil {
					return err
				}
				if err := txn.Delete(primaryKey(t, key)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return start, fmt.Errorf("delete from %s: %w", t, err)
		}
	}
	return len(keys), nil
}

func (s *BadgerStore) Clear(ctx context.Context, t Table) error {
	if err := checkTable(t); err != nil {
		return err
	}
	for _, prefix := range [][]byte{tablePrefix(t), indexRecPrefix(t), indexTablePrefix(t)} {
		if err := s.deletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	logger.Log.Debug("Cleared table", zap.String("table", string(t)))
	return nil
}

// deletePrefix removes every key under prefix in bounded transactions.
func (s *BadgerStore) deletePrefix(ctx context.Context, prefix []byte) error {
	const batch = 10 * BulkChunkSize
	for {
		var keys [][]byte
		err := s.db.View(ctx, func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.ValidForPrefix(prefix) && len(keys) < batch; it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil || len(keys) == 0 {
			return err
		}
		err = s.db.Update(ctx, func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) < batch {
			return nil
		}
	}
}

func (s *BadgerStore) Count(ctx context.Context, t Table) (int, error) {
	if err := checkTable(t); err != nil {
		return 0, err
	}
	prefix := tablePrefix(t)
	n := 0
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t, err)
	}
	return n, nil
}

const healthCheckKey = "health_check"

func (s *BadgerStore) Probe(ctx context.Context) error {
	var v json.RawMessage
	_, err := s.Get(ctx, KeyVal, healthCheckKey, &v)
	return err
}

// Reopen closes and reopens the database without touching its files.
func (s *BadgerStore) Reopen() error {
	if err := s.db.Reopen(); err != nil {
		return err
	}
	return s.ensureSchema(context.Background())
}

// Recreate deletes every table and starts from an empty store.
func (s *BadgerStore) Recreate() error {
	if err := s.db.Recreate(); err != nil {
		return err
	}
	return s.ensureSchema(context.Background())
}

func (s *BadgerStore) Size() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
