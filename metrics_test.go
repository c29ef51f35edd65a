package m3api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.GetRegistry() != registry {
		t.Error("Registry not set correctly")
	}
	if collector.requestsTotal == nil || collector.retriesTotal == nil || collector.tokenFetches == nil {
		t.Error("metrics not initialized")
	}
}

func TestRecordRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	collector.RecordRequestStart(MethodGet)
	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues(MethodGet)); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	collector.RecordRequestEnd(MethodGet)
	collector.RecordRequest(MethodGet, "success", 150*time.Millisecond)

	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues(MethodGet)); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues(MethodGet, "success")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(collector.requestDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *MetricsCollector

	collector.RecordRequestStart(MethodGet)
	collector.RecordRequestEnd(MethodGet)
	collector.RecordRequest(MethodGet, "success", time.Second)
	collector.RecordRetry("maxlag")
	collector.RecordError(ErrorTypeNetwork, MethodGet)
	collector.RecordTokenFetch("csrf")
	collector.RecordTokenInvalidation()
	collector.RecordCombined(2)
}

func TestSessionRecordsRetriesAndOutcomes(t *testing.T) {
	transport := &scriptedTransport{}
	transport.handler = func(n int, call recordedCall) (*RawResponse, error) {
		switch {
		case call.method == MethodGet:
			return tokenResponse(map[string]any{"csrftoken": "T"}), nil
		case n == 1:
			return okResponse(apiError("maxlag")), nil
		case n == 2:
			return okResponse(apiError("badtoken")), nil
		default:
			return okResponse(apiError("permissiondenied")), nil
		}
	}
	registry := prometheus.NewRegistry()
	session, _ := newTestSession(transport, WithMetrics(registry))

	_, err := session.Request(context.Background(), Params{"action": "edit"},
		WithMethod(MethodPost), WithTokenType("csrf"))
	if err == nil {
		t.Fatal("expected permissiondenied error")
	}

	metrics := session.metrics
	if got := testutil.ToFloat64(metrics.retriesTotal.WithLabelValues("maxlag")); got != 1 {
		t.Errorf("maxlag retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retriesTotal.WithLabelValues("badtoken")); got != 1 {
		t.Errorf("badtoken retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.tokenInvalidations); got != 1 {
		t.Errorf("token invalidations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.requestsTotal.WithLabelValues(MethodPost, "api_error")); got != 1 {
		t.Errorf("failed POST requests = %v, want 1", got)
	}

	expected := `
# HELP m3api_token_fetches_total Total number of tokens fetched from the API
# TYPE m3api_token_fetches_total counter
m3api_token_fetches_total{type="csrf"} 2
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "m3api_token_fetches_total"); err != nil {
		t.Error(err)
	}
}
