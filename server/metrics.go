package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	documents *prometheus.HistogramVec
	conns     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolerag_requests_total",
				Help: "Total number of websocket requests by role, type and outcome",
			},
			[]string{"role", "type", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolerag_request_duration_seconds",
				Help:    "Time to serve a websocket request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		documents: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolerag_documents_returned",
				Help:    "Authorized documents returned per request",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
			[]string{"role"},
		),
		conns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolerag_websocket_connections",
				Help: "Currently open websocket connections",
			},
		),
	}
	reg.MustRegister(m.requests, m.duration, m.documents, m.conns)
	return m
}
