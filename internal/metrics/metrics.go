package metrics

import (
	"context"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_requests_total",
			Help: "Total number of routed requests by outcome",
		},
		[]string{"model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_request_duration_seconds",
			Help:    "End-to-end routing duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	Attempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_attempts",
			Help:    "Attempts made against the model that produced the outcome",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_tokens_total",
			Help: "Total number of tokens reported by upstream models",
		},
		[]string{"model"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrouter_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrouter_cache_misses_total",
			Help: "Total number of requests that reached a model",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"model"},
	)

	ModelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_model_errors_total",
			Help: "Total number of candidates given up on, by error kind",
		},
		[]string{"model", "error_kind"},
	)

	RoutingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrouter_routing_failures_total",
			Help: "Total number of requests for which every candidate failed",
		},
	)

	CandidatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_candidates_skipped_total",
			Help: "Candidates skipped without a call",
		},
		[]string{"reason"},
	)

	DiscoveredModels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_discovered_models",
			Help: "Number of ranked candidate models currently known",
		},
	)

	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_active_connections",
			Help: "Number of active HTTP connections being processed",
		},
		[]string{"pod"},
	)

	InstanceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_instance_info",
			Help: "Instance information (always 1)",
		},
		[]string{"pod", "namespace", "version"},
	)
)

func RecordRequest(model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(model, status).Inc()
	RequestDuration.WithLabelValues(model).Observe(durationSec)
}

func RecordTokens(model string, tokens int) {
	TokensTotal.WithLabelValues(model).Add(float64(tokens))
}

func RecordModelError(model, errorKind string) {
	ModelErrors.WithLabelValues(model, errorKind).Inc()
}

func SetCircuitBreakerState(model, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	CircuitBreakerState.WithLabelValues(model).Set(v)
}

func SetDiscoveredModels(n int) {
	DiscoveredModels.Set(float64(n))
}

// Recorder turns routing events into Prometheus samples.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(ctx context.Context, event domain.RouteEvent) {
	seconds := float64(event.LatencyMs) / 1000

	switch event.Kind {
	case domain.EventCacheHit:
		CacheHits.Inc()
		RecordRequest(event.Model, "cache_hit", seconds)

	case domain.EventSuccess:
		CacheMisses.Inc()
		RecordRequest(event.Model, "success", seconds)
		RecordTokens(event.Model, event.TokensUsed)
		Attempts.WithLabelValues(event.Model).Observe(float64(event.Attempts))
		SetCircuitBreakerState(event.Model, "closed")

	case domain.EventCandidateFailure:
		RecordModelError(event.Model, event.ErrorKind)
		Attempts.WithLabelValues(event.Model).Observe(float64(event.Attempts))
		if event.CircuitState != "" {
			SetCircuitBreakerState(event.Model, event.CircuitState)
		}

	case domain.EventAggregateFailure:
		CacheMisses.Inc()
		RoutingFailures.Inc()
		RecordRequest("", "failure", seconds)
		CandidatesSkipped.WithLabelValues("circuit_open").Add(float64(event.CircuitSkipped))
		CandidatesSkipped.WithLabelValues("unavailable").Add(float64(event.Skipped))
	}
}

// Instance-aware metrics for horizontal scaling
var currentPodName string

// InitInstanceMetrics initializes instance-specific metrics.
// Should be called once at startup with pod identification.
func InitInstanceMetrics(podName, namespace, version string) {
	currentPodName = podName
	InstanceInfo.WithLabelValues(podName, namespace, version).Set(1)
}

func IncrementActiveConnections() {
	ActiveConnections.WithLabelValues(currentPodName).Inc()
}

func DecrementActiveConnections() {
	ActiveConnections.WithLabelValues(currentPodName).Dec()
}
