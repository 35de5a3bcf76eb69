package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sync_entries_total",
		Help: "Queue entries attempted against the backend, by entity and outcome.",
	}, []string{"entity", "outcome"})
	pendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pos_sync_pending",
		Help: "Entries left queued after the last pass, by entity.",
	}, []string{"entity"})
	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_sync_pass_duration_seconds",
		Help:    "Duration of reconciliation passes that reached the backend.",
		Buckets: prometheus.DefBuckets,
	}, []string{"entity"})
	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sync_skipped_total",
		Help: "Passes that returned early, by entity and reason (running, offline, empty).",
	}, []string{"entity", "reason"})
)
