package space

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minispace",
		Name:      "messages_total",
		Help:      "Messages by final local status: confirmed, failed, invalid, remote.",
	}, []string{"status"})

	morphsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minispace",
		Name:      "morphs_total",
		Help:      "Morphs by outcome: confirmed, aborted, rejected, remote.",
	}, []string{"outcome"})

	quantumEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minispace",
		Name:      "quantum_events_total",
		Help:      "Quantum events created, by type.",
	}, []string{"type"})

	liveSpaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "minispace",
		Name:      "live_spaces",
		Help:      "Spaces held in memory.",
	})
)
