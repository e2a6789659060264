package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess  = "success"
	outcomeFallback = "fallback"
)

var (
	upstreamRequestsTotalMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiproxy_upstream_requests_total",
		Help: "The total number of proxied upstream calls by outcome",
	}, []string{"operation", "outcome"})
	upstreamRequestDurationMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apiproxy_upstream_request_duration_seconds",
		Help:    "Duration of proxied upstream calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
