package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Query decodes the records of table t that satisfy pred, skipping the
// first offset matches and returning at most limit of them. A nil pred
// matches everything; limit <= 0 means no limit.
func Query[T any](ctx context.Context, s Store, t Table, pred func(T) bool, offset, limit int) ([]T, error) {
	var out []T
	err := s.Scan(ctx, t, collect(&out, pred, offset, limit))
	return out, err
}

// QueryIndex is Query restricted to records reachable through one index.
func QueryIndex[T any](ctx context.Context, s Store, t Table, index, value string, prefix bool, pred func(T) bool, offset, limit int) ([]T, error) {
	var out []T
	err := s.ScanIndex(ctx, t, index, value, prefix, collect(&out, pred, offset, limit))
	return out, err
}

func collect[T any](out *[]T, pred func(T) bool, offset, limit int) ScanFunc {
	skipped := 0
	return func(key string, raw json.RawMessage) (bool, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return false, fmt.Errorf("decode %q: %w", key, err)
		}
		if pred != nil && !pred(v) {
			return true, nil
		}
		if skipped < offset {
			skipped++
			return true, nil
		}
		*out = append(*out, v)
		return limit <= 0 || len(*out) < limit, nil
	}
}
