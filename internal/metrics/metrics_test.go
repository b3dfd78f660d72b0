package metrics

import (
	"context"
	"testing"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	// Reset metrics for test isolation
	RequestsTotal.Reset()
	RequestDuration.Reset()

	RecordRequest("gemini-2.5-flash", "success", 1.5)

	count := testutil.ToFloat64(RequestsTotal.WithLabelValues("gemini-2.5-flash", "success"))
	if count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}
}

func TestSetCircuitBreakerState(t *testing.T) {
	tests := []struct {
		state string
		want  float64
	}{
		{"closed", 0},
		{"half-open", 1},
		{"open", 2},
	}

	for _, tt := range tests {
		SetCircuitBreakerState("m1", tt.state)

		got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("m1"))
		if got != tt.want {
			t.Errorf("state %s = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestRecorder_Emit(t *testing.T) {
	RequestsTotal.Reset()
	TokensTotal.Reset()
	ModelErrors.Reset()
	CandidatesSkipped.Reset()

	r := NewRecorder()
	ctx := context.Background()
	hitsBefore := testutil.ToFloat64(CacheHits)
	failuresBefore := testutil.ToFloat64(RoutingFailures)

	r.Emit(ctx, domain.RouteEvent{Kind: domain.EventSuccess, Model: "m1", TokensUsed: 42, Attempts: 2, LatencyMs: 1200})
	r.Emit(ctx, domain.RouteEvent{Kind: domain.EventCacheHit, Model: "m1"})
	r.Emit(ctx, domain.RouteEvent{Kind: domain.EventCandidateFailure, Model: "m2", ErrorKind: "rate_limit", CircuitState: "open"})
	r.Emit(ctx, domain.RouteEvent{Kind: domain.EventAggregateFailure, CircuitSkipped: 2, Skipped: 1})

	if got := testutil.ToFloat64(TokensTotal.WithLabelValues("m1")); got != 42 {
		t.Errorf("TokensTotal = %v, want 42", got)
	}
	if got := testutil.ToFloat64(CacheHits) - hitsBefore; got != 1 {
		t.Errorf("CacheHits delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ModelErrors.WithLabelValues("m2", "rate_limit")); got != 1 {
		t.Errorf("ModelErrors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("m2")); got != 2 {
		t.Errorf("circuit state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(RoutingFailures) - failuresBefore; got != 1 {
		t.Errorf("RoutingFailures delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CandidatesSkipped.WithLabelValues("circuit_open")); got != 2 {
		t.Errorf("circuit skips = %v, want 2", got)
	}
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("m1", "cache_hit")); got != 1 {
		t.Errorf("cache hit requests = %v, want 1", got)
	}
}

func TestActiveConnections(t *testing.T) {
	ActiveConnections.Reset()
	InitInstanceMetrics("pod-1", "default", "test")

	IncrementActiveConnections()
	IncrementActiveConnections()
	DecrementActiveConnections()

	if got := testutil.ToFloat64(ActiveConnections.WithLabelValues("pod-1")); got != 1 {
		t.Errorf("ActiveConnections = %v, want 1", got)
	}
}
