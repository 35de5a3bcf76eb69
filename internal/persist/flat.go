package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"pos-offline-core/internal/config"
)

// LargeKeys are never written to the flat fallback.
var LargeKeys = map[string]bool{
	"items":              true,
	"item_details_cache": true,
	"local_stock_cache":  true,
	"price_list_cache":   true,
}

// FlatStore is the small key-value fallback used for fast restarts. Each key
// is one file named <prefix><key>.json.
type FlatStore struct {
	fs            afero.Fs
	dir           string
	prefix        string
	maxValueBytes int
}

func NewFlatStore(fsys afero.Fs, cfg config.FallbackConfig) (*FlatStore, error) {
	if err := fsys.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create fallback directory %s: %w", cfg.Dir, err)
	}
	return &FlatStore{
		fs:            fsys,
		dir:           cfg.Dir,
		prefix:        cfg.Prefix,
		maxValueBytes: cfg.MaxValueBytes,
	}, nil
}

func (f *FlatStore) path(key string) string {
	return filepath.Join(f.dir, f.prefix+key+".json")
}

// Accepts reports whether key/value belong in the flat store.
func (f *FlatStore) Accepts(key string, value []byte) bool {
	return !LargeKeys[key] && (f.maxValueBytes <= 0 || len(value) <= f.maxValueBytes)
}

func (f *FlatStore) Get(key string) (json.RawMessage, bool, error) {
	b, err := afero.ReadFile(f.fs, f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read fallback %s: %w", key, err)
	}
	if !json.Valid(b) {
		return nil, false, fmt.Errorf("read fallback %s: invalid JSON", key)
	}
	return b, true, nil
}

// Set writes value for key, or removes the key when the value is not
// accepted so a stale small copy never outlives a large one.
func (f *FlatStore) Set(key string, value json.RawMessage) error {
	if !f.Accepts(key, value) {
		flatWritesTotal.WithLabelValues("skipped").Inc()
		return f.Remove(key)
	}
	tmp := f.path(key) + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, value, 0o640); err != nil {
		flatWritesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("write fallback %s: %w", key, err)
	}
	if err := f.fs.Rename(tmp, f.path(key)); err != nil {
		flatWritesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("write fallback %s: %w", key, err)
	}
	flatWritesTotal.WithLabelValues("written").Inc()
	return nil
}

func (f *FlatStore) Remove(key string) error {
	err := f.fs.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove fallback %s: %w", key, err)
	}
	return nil
}

// Clear removes every key under the prefix and leaves other files alone.
func (f *FlatStore) Clear() error {
	keys, err := f.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := f.Remove(k); err != nil {
			return err
		}
	}
	return nil
}

func (f *FlatStore) Keys() ([]string, error) {
	infos, err := afero.ReadDir(f.fs, f.dir)
	if err != nil {
		return nil, fmt.Errorf("list fallback: %w", err)
	}
	var keys []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasPrefix(name, f.prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(strings.TrimPrefix(name, f.prefix), ".json"))
	}
	return keys, nil
}

// Size is the number of bytes held under the prefix.
func (f *FlatStore) Size() (int64, error) {
	infos, err := afero.ReadDir(f.fs, f.dir)
	if err != nil {
		return 0, fmt.Errorf("size fallback: %w", err)
	}
	var n int64
	for _, info := range infos {
		if !info.IsDir() && strings.HasPrefix(info.Name(), f.prefix) {
			n += info.Size()
		}
	}
	return n, nil
}
