package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryhub_cache_lookups_total",
			Help: "Total cache lookups by outcome (hit, miss, second_chance_hit).",
		},
		[]string{"outcome"},
	)
	cacheFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryhub_cache_failovers_total",
			Help: "Total operations served by the fallback cache store because the primary was unavailable.",
		},
	)
	generationAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryhub_generation_attempts_total",
			Help: "Total SQL generation attempts, including repair rounds.",
		},
	)
	generationExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryhub_generation_exhausted_total",
			Help: "Total requests that exhausted the bounded repair loop.",
		},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryhub_validation_rejections_total",
			Help: "Total validator rejections by reason code.",
		},
		[]string{"code"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryhub_executions_total",
			Help: "Total query executions by outcome (ok, timeout, row_limit, engine_rejected).",
		},
		[]string{"outcome"},
	)
	pipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryhub_pipeline_duration_seconds",
			Help:    "End-to-end pipeline latency by result (hit, answered, failed).",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"result"},
	)
	tenantViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryhub_tenant_violations_total",
			Help: "Total detected cross-tenant access attempts. Must stay at zero.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		cacheLookupsTotal,
		cacheFailoversTotal,
		generationAttemptsTotal,
		generationExhaustedTotal,
		validationRejectionsTotal,
		executionsTotal,
		pipelineDurationSeconds,
		tenantViolationsTotal,
	)
}

func ObserveCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

func IncrementCacheFailover() {
	cacheFailoversTotal.Inc()
}

func IncrementGenerationAttempt() {
	generationAttemptsTotal.Inc()
}

func IncrementGenerationExhausted() {
	generationExhaustedTotal.Inc()
}

func ObserveValidationRejection(code string) {
	validationRejectionsTotal.WithLabelValues(code).Inc()
}

func ObserveExecution(outcome string) {
	executionsTotal.WithLabelValues(outcome).Inc()
}

func ObservePipeline(result string, elapsed time.Duration) {
	pipelineDurationSeconds.WithLabelValues(result).Observe(elapsed.Seconds())
}

func IncrementTenantViolation() {
	tenantViolationsTotal.Inc()
}
