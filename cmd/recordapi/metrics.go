package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	configReloadsTotalMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiproxy_recordapi_config_reloads_total",
		Help: "The total number of config reloads by result",
	}, []string{"result"})
	buildInfoMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apiproxy_recordapi_build_info",
		Help: "Build information of the running record service",
	}, []string{"version", "commit", "driver"})
)
