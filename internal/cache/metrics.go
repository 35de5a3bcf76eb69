package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_cache_hits_total",
		Help: "Read cache hits by cache and tier.",
	}, []string{"cache", "tier"})

	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_cache_misses_total",
		Help: "Read cache misses at every tier.",
	}, []string{"cache"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_cache_evictions_total",
		Help: "Entries evicted from the memory tier.",
	}, []string{"cache", "reason"})
)
