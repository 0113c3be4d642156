package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gaugeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms",
		Help: "Rooms bound to a video session",
	})

	metricPinDraws = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_pin_draws_total",
		Help: "Random pin draws",
	})

	metricPinCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_pin_collisions_total",
		Help: "Random pin draws that hit an already mapped pin",
	})

	metricListenerDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_event_listener_dropped_total",
		Help: "Events not delivered to a listener that fell behind",
	})
)
