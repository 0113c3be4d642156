package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gaugeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_feed_subscribers",
		Help: "Open event feed websocket connections",
	})

	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_feed_messages_total",
		Help: "Event messages written to feed observers",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_feed_dropped_total",
		Help: "Feed observers dropped after falling behind",
	})
)
