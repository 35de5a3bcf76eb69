package cache

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/persist"
)

// Session is the second tier. It keeps portable copies of entries for the
// lifetime of the process and forgets the least recently used ones.
type Session[T any] struct {
	lru *lru.Cache
}

func NewSession[T any](size int) (*Session[T], error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Session[T]{lru: c}, nil
}

// Get returns the stored entry, fresh or not.
func (s *Session[T]) Get(key string) (Entry[T], bool) {
	var e Entry[T]
	v, ok := s.lru.Get(key)
	if !ok {
		return e, false
	}
	if err := persist.Decode(v.(json.RawMessage), &e); err != nil {
		s.lru.Remove(key)
		return e, false
	}
	return e, true
}

// Set stores a portable copy of e. Values that cannot be converted are not
// cached in this tier.
func (s *Session[T]) Set(key string, e Entry[T]) {
	raw, err := persist.ToPortable(e)
	if err != nil {
		logger.Log.Warn("Session cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.lru.Add(key, raw)
}

func (s *Session[T]) Delete(key string) { s.lru.Remove(key) }

func (s *Session[T]) Clear() { s.lru.Purge() }

func (s *Session[T]) Len() int { return s.lru.Len() }

// Cleanup drops entries that are no longer fresh at now.
func (s *Session[T]) Cleanup(now time.Time) {
	for _, k := range s.lru.Keys() {
		v, ok := s.lru.Peek(k)
		if !ok {
			continue
		}
		var e Entry[T]
		if err := persist.Decode(v.(json.RawMessage), &e); err != nil || !e.Fresh(now) {
			s.lru.Remove(k)
		}
	}
}
