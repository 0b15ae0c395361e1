package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Subsystem: "relay",
		Name:      "events_processed_total",
		Help:      "Lifecycle and domain events consumed, by kind.",
	}, []string{"kind"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Subsystem: "relay",
		Name:      "events_dropped_total",
		Help:      "Events dropped because their channel no longer exists.",
	}, []string{"kind"})
)
