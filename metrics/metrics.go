// Package metrics exposes Prometheus instrumentation for the generation
// session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidegen",
		Name:      "requests_total",
		Help:      "Generation requests by task and outcome.",
	}, []string{"task", "status"})

	TokensGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sidegen",
		Name:      "tokens_generated_total",
		Help:      "Total tokens decoded across all generations.",
	})

	TokensPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sidegen",
		Name:      "tokens_per_second",
		Help:      "Decode throughput of the most recent generation.",
	})

	ActiveGenerations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sidegen",
		Name:      "active_generations",
		Help:      "Number of generations currently running.",
	})

	ModelLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidegen",
		Name:      "model_loads_total",
		Help:      "Model instance loads by task and outcome.",
	}, []string{"task", "status"})

	ModelLoadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sidegen",
		Name:      "model_load_seconds",
		Help:      "Wall time to load a model instance.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
