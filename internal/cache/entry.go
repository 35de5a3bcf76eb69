// Package cache implements the multi-tier read cache: a bounded memory map,
// a session LRU and a durable backing, checked in that order.
package cache

import (
	"time"
)

// Entry is a cached value with the time it was fetched and how long it
// stays fresh.
type Entry[T any] struct {
	Data      T             `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
	TTL       time.Duration `json:"ttl"`
}

// Fresh reports whether the entry may be served as current at now.
func (e Entry[T]) Fresh(now time.Time) bool {
	return now.Sub(e.Timestamp) < e.TTL
}
