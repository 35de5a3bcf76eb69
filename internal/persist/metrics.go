package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_persist_writes_total",
		Help: "Persistence messages applied to the store, by path (channel or inline).",
	}, []string{"path"})
	writeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_persist_write_failures_total",
		Help: "Persistence messages that failed to apply, by message type.",
	}, []string{"type"})
	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_persist_coalesced_total",
		Help: "Persist messages dropped because a later value for the same key was batched.",
	})
	serializationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_persist_serialization_errors_total",
		Help: "Values rejected at the persistence boundary.",
	})
	flatWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_persist_flat_writes_total",
		Help: "Flat fallback updates, by result (written, skipped, failed).",
	}, []string{"result"})
)
