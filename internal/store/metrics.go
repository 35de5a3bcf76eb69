package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healthTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_store_health_transitions_total",
		Help: "Health monitor state transitions, by target state.",
	}, []string{"state"})
	healthState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_store_health_state",
		Help: "Current health monitor state (0=healthy, 1=suspect, 2=reopening, 3=recreating, 4=unavailable).",
	})
	recreationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_store_recreations_total",
		Help: "Destructive store recreations.",
	})
)
