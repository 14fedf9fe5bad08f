package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

func (mc *MetricsCollector) RecordJobSubmitted(environment, scope string) {
	mc.prometheus.RecordJobSubmitted(environment, scope)

	mc.logger.Debug("Recorded job submission metric",
		zap.String("environment", environment),
		zap.String("scope", scope))
}

func (mc *MetricsCollector) RecordJobCompleted(status string, duration time.Duration) {
	mc.prometheus.RecordJobCompleted(status)
	mc.prometheus.RecordJobDuration(duration.Seconds())

	mc.logger.Debug("Recorded job completion metric",
		zap.String("status", status),
		zap.Duration("duration", duration))
}

func (mc *MetricsCollector) SetActiveJobs(count int) {
	mc.prometheus.SetActiveJobs(count)
}

func (mc *MetricsCollector) RecordScheduleRun(status string) {
	mc.prometheus.RecordScheduleRun(status)

	mc.logger.Debug("Recorded schedule run metric",
		zap.String("status", status))
}

func (mc *MetricsCollector) RecordStatusRequest() {
	mc.prometheus.RecordStatusRequest()
}

func (mc *MetricsCollector) RecordWarmRequest(status string) {
	mc.prometheus.RecordWarmRequest(status)
}

func (mc *MetricsCollector) RecordRedisOperation(operation, status string) {
	mc.prometheus.RecordRedisOperation(operation, status)
}

func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
