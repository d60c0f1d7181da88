package otas

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcome counters on the default registry. Registered once per
// process; every Client shares them.
var (
	eventsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "otas",
		Subsystem: "sdk",
		Name:      "events_dispatched_total",
		Help:      "Events accepted by the ingest endpoint.",
	})

	eventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otas",
		Subsystem: "sdk",
		Name:      "events_failed_total",
		Help:      "Events that could not be delivered, by reason.",
	}, []string{"reason"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "otas",
		Subsystem: "sdk",
		Name:      "events_dropped_total",
		Help:      "Events dropped because the dispatch queue was full.",
	})
)
