package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
)

// SchemaVersion is the on-disk layout this code reads and writes.
//
//	1: items without derived index fields
//	2: items carry barcodes, name_keywords, serials and batches, all indexed
const SchemaVersion = 2

func (s *BadgerStore) readSchemaVersion(ctx context.Context) (int, bool, error) {
	var (
		version int
		found   bool
	)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(metaSchemaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { return decodeValue(val, &version) })
	})
	return version, found, err
}

func (s *BadgerStore) writeSchemaVersion(ctx context.Context, version int) error {
	enc, err := encodeValue(version)
	if err != nil {
		return err
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(metaSchemaKey, enc)
	})
}

// ensureSchema stamps a fresh store with SchemaVersion and upgrades older
// ones in place. A store without a version stamp but with items predates
// versioning and is treated as version 1.
func (s *BadgerStore) ensureSchema(ctx context.Context) error {
	version, found, err := s.readSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if !found {
		n, err := s.Count(ctx, Items)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.writeSchemaVersion(ctx, SchemaVersion)
		}
		version = 1
	}

	switch {
	case version == SchemaVersion:
		return nil
	case version > SchemaVersion:
		return &database.OpenError{
			Kind: database.VersionMismatch,
			Err:  fmt.Errorf("on-disk schema %d is newer than %d", version, SchemaVersion),
		}
	}

	logger.Log.Info("Upgrading store schema",
		zap.Int("from", version),
		zap.Int("to", SchemaVersion),
	)
	if err := s.upgradeItems(ctx); err != nil {
		return fmt.Errorf("upgrade schema from %d: %w", version, err)
	}
	return s.writeSchemaVersion(ctx, SchemaVersion)
}

// upgradeItems re-derives the index fields of every item and rewrites it,
// which also rebuilds its index entries. Only the derived fields are
// replaced; everything else in the stored body is kept as is. Running it
// twice is harmless.
func (s *BadgerStore) upgradeItems(ctx context.Context) error {
	var recs []Record
	err := s.Scan(ctx, Items, func(key string, raw json.RawMessage) (bool, error) {
		rec, err := upgradeItem(key, raw)
		if err != nil {
			logger.Log.Warn("Skipping undecodable item during upgrade",
				zap.String("item_code", key),
				zap.Error(err),
			)
			return true, nil
		}
		recs = append(recs, rec)
		return true, nil
	})
	if err != nil {
		return err
	}
	if err := s.BulkPut(ctx, Items, recs); err != nil {
		return err
	}
	logger.Log.Info("Rebuilt item indexes", zap.Int("items", len(recs)))
	return nil
}

func upgradeItem(key string, raw json.RawMessage) (RawRecord, error) {
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return RawRecord{}, err
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return RawRecord{}, err
	}
	if it.ItemCode == "" {
		it.ItemCode = key
	}
	it.DeriveIndexFields()

	derived := map[string]interface{}{
		"item_code":     it.ItemCode,
		"barcodes":      it.Barcodes,
		"name_keywords": it.NameKeywords,
		"serials":       it.Serials,
		"batches":       it.Batches,
	}
	for name, v := range derived {
		enc, err := json.Marshal(v)
		if err != nil {
			return RawRecord{}, err
		}
		body[name] = enc
	}
	out, err := json.Marshal(body)
	if err != nil {
		return RawRecord{}, err
	}
	return RawRecord{Key: it.ItemCode, Indexes: it.IndexValues(), Body: out}, nil
}
