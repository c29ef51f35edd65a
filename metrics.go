package m3api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// retries, tokens and request combining. It is safe for concurrent use, and
// a nil collector records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec

	tokenFetches       *prometheus.CounterVec
	tokenInvalidations prometheus.Counter

	combinedRequests prometheus.Counter
	combinedWaiters  prometheus.Histogram

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m3api_requests_total",
				Help: "Total number of logical API requests by outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "m3api_request_duration_seconds",
				Help:    "Duration of logical API requests including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "m3api_requests_in_flight",
				Help: "Number of logical API requests currently in flight",
			},
			[]string{"method"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m3api_retries_total",
				Help: "Total number of retries by reason",
			},
			[]string{"reason"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m3api_errors_total",
				Help: "Total number of failed requests by error type",
			},
			[]string{"type", "method"},
		),
		tokenFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m3api_token_fetches_total",
				Help: "Total number of tokens fetched from the API",
			},
			[]string{"type"},
		),
		tokenInvalidations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "m3api_token_invalidations_total",
				Help: "Total number of token cache invalidations after a bad token",
			},
		),
		combinedRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "m3api_combined_requests_total",
				Help: "Total number of network calls issued by the request combiner",
			},
		),
		combinedWaiters: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "m3api_combined_waiters",
				Help:    "Number of callers served by one combined request",
				Buckets: []float64{1, 2, 4, 8, 16, 32},
			},
		),
		registry: registry,
	}
}

// RecordRequest records a finished logical request.
func (mc *MetricsCollector) RecordRequest(method, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(method, outcome).Inc()
	mc.requestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method).Dec()
}

// RecordRetry counts a scheduled retry.
func (mc *MetricsCollector) RecordRetry(reason string) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(reason).Inc()
}

// RecordError counts a failed request by error type.
func (mc *MetricsCollector) RecordError(errorType, method string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method).Inc()
}

func (mc *MetricsCollector) RecordTokenFetch(tokenType string) {
	if mc == nil {
		return
	}

	mc.tokenFetches.WithLabelValues(tokenType).Inc()
}

func (mc *MetricsCollector) RecordTokenInvalidation() {
	if mc == nil {
		return
	}

	mc.tokenInvalidations.Inc()
}

// RecordCombined records one combined network call serving waiters callers.
func (mc *MetricsCollector) RecordCombined(waiters int) {
	if mc == nil {
		return
	}

	mc.combinedRequests.Inc()
	mc.combinedWaiters.Observe(float64(waiters))
}

// GetRegistry exposes the registerer the collector was created with.
func (mc *MetricsCollector) GetRegistry() prometheus.Registerer {
	return mc.registry
}
