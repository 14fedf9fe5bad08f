package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

type PrometheusMetrics struct {
	httpHandler func(*fasthttp.RequestCtx)
	logger      *zap.Logger

	jobsSubmittedTotal   *prometheus.CounterVec
	jobsCompletedTotal   *prometheus.CounterVec
	jobDuration          prometheus.Histogram
	activeJobs           prometheus.Gauge
	scheduleRunsTotal    *prometheus.CounterVec
	statusRequestsTotal  prometheus.Counter
	warmRequestsTotal    *prometheus.CounterVec
	redisOperationsTotal *prometheus.CounterVec
}

func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	if namespace == "" {
		namespace = "revalidator"
	}

	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "jobs_submitted_total",
			Help:      "Total number of revalidation jobs submitted",
		},
		[]string{"environment", "scope"},
	)

	pm.jobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "jobs_completed_total",
			Help:      "Total number of revalidation jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	pm.jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "job_duration_seconds",
			Help:      "Duration of revalidation jobs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pm.activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "active_jobs",
			Help:      "Number of revalidation jobs currently executing",
		},
	)

	pm.scheduleRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "schedule_runs_total",
			Help:      "Total number of jobs triggered by schedules",
		},
		[]string{"status"},
	)

	pm.statusRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "status_requests_total",
			Help:      "Total number of job status poll requests",
		},
	)

	pm.warmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "warm_requests_total",
			Help:      "Total number of cache warm fetches",
		},
		[]string{"status"},
	)

	pm.redisOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(pm.jobsSubmittedTotal)
	registry.MustRegister(pm.jobsCompletedTotal)
	registry.MustRegister(pm.jobDuration)
	registry.MustRegister(pm.activeJobs)
	registry.MustRegister(pm.scheduleRunsTotal)
	registry.MustRegister(pm.statusRequestsTotal)
	registry.MustRegister(pm.warmRequestsTotal)
	registry.MustRegister(pm.redisOperationsTotal)

	gatherer := prometheus.Gatherer(registry)
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})

	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(handler)

	logger.Info("Prometheus metrics initialized for revalidation daemon",
		zap.String("namespace", namespace))

	return pm
}

func (pm *PrometheusMetrics) RecordJobSubmitted(environment, scope string) {
	pm.jobsSubmittedTotal.WithLabelValues(environment, scope).Inc()
}

func (pm *PrometheusMetrics) RecordJobCompleted(status string) {
	pm.jobsCompletedTotal.WithLabelValues(status).Inc()
}

func (pm *PrometheusMetrics) RecordJobDuration(seconds float64) {
	pm.jobDuration.Observe(seconds)
}

func (pm *PrometheusMetrics) SetActiveJobs(count int) {
	pm.activeJobs.Set(float64(count))
}

func (pm *PrometheusMetrics) RecordScheduleRun(status string) {
	pm.scheduleRunsTotal.WithLabelValues(status).Inc()
}

func (pm *PrometheusMetrics) RecordStatusRequest() {
	pm.statusRequestsTotal.Inc()
}

func (pm *PrometheusMetrics) RecordWarmRequest(status string) {
	pm.warmRequestsTotal.WithLabelValues(status).Inc()
}

func (pm *PrometheusMetrics) RecordRedisOperation(operation, status string) {
	pm.redisOperationsTotal.WithLabelValues(operation, status).Inc()
}

func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
