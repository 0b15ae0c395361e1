package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatbridge",
		Subsystem: "dispatch",
		Name:      "commands_inflight",
		Help:      "Number of commands currently awaiting a response.",
	})

	commandTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Subsystem: "dispatch",
		Name:      "command_timeouts_total",
		Help:      "Commands that expired without a correlated response.",
	}, []string{"command"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatbridge",
		Subsystem: "dispatch",
		Name:      "command_duration_seconds",
		Help:      "Time from publish to settlement per command.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command", "outcome"})

	lateResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Subsystem: "dispatch",
		Name:      "late_responses_total",
		Help:      "Responses that arrived after their pending entry was already settled.",
	})
)
