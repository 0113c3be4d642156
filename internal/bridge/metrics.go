package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDialOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dialouts_total",
		Help: "SIP legs requested from the video provider by outcome",
	}, []string{"kind", "outcome"})

	metricDialLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_dialout_latency_ms",
		Help:    "Latency of the video provider dial request",
		Buckets: prometheus.ExponentialBuckets(50, 1.8, 10),
	})

	metricPinEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pin_entries_total",
		Help: "DTMF pin submissions by result",
	}, []string{"result"})

	metricTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_teardowns_total",
		Help: "SIP leg teardowns by outcome",
	}, []string{"outcome"})

	metricSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_signals_total",
		Help: "Signals relayed into video sessions",
	}, []string{"type", "outcome"})

	metricProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_provider_errors_total",
		Help: "Failed provider calls",
	}, []string{"provider", "op"})
)
