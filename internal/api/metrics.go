package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	metricLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_ms",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"route"})
)
