package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcwatch_samples_ingested_total",
			Help: "Metric samples accepted into the cache",
		},
		[]string{"source"}, // ingest path: kafka, rest
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcwatch_samples_rejected_total",
			Help: "Metric samples dropped before evaluation",
		},
		[]string{"reason"},
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcwatch_rule_evaluations_total",
			Help: "Rule evaluations by resulting status",
		},
		[]string{"status"},
	)

	TransitionsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcwatch_transitions_published_total",
			Help: "Alert transitions forwarded downstream, by status",
		},
		[]string{"status"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcwatch_publish_failures_total",
			Help: "Alert transitions that could not be delivered",
		},
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dcwatch_rules_loaded",
			Help: "Rules currently loaded in the engine",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dcwatch_metric_cache_entries",
			Help: "Entries currently held in the metric cache",
		},
	)

	CacheSweepRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcwatch_metric_cache_swept_total",
			Help: "Expired cache entries removed by periodic sweeps",
		},
	)
)
