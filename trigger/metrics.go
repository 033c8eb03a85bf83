package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triggers_events_total",
			Help: "Change events dispatched, labeled by trigger and outcome status.",
		},
		[]string{"trigger", "status"},
	)

	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triggers_invocations_total",
			Help: "Callable invocations, labeled by callable name and result code.",
		},
		[]string{"callable", "code"},
	)

	auditGapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triggers_audit_gaps_total",
			Help: "Handler runs that failed while appending to the audit trail.",
		},
		[]string{"trigger"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triggers_handler_duration_seconds",
			Help:    "Duration of trigger handler calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger", "kind", "result"},
	)
)
