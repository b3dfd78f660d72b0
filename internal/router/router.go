// Package router dispatches a generation request across ranked candidate
// models with per-model retries, circuit breaking and response caching.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/felipepmaragno/model-router/internal/cache"
	"github.com/felipepmaragno/model-router/internal/circuitbreaker"
	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/telemetry"
	"github.com/google/uuid"
)

// Registry supplies the ranked candidate list.
type Registry interface {
	Discover(ctx context.Context, forceRefresh bool) []domain.ModelDescriptor
}

// Provider performs a single attempt against one model. A provider without
// credentials fails with a configuration error instead of being skipped, so
// the aggregate failure names it.
type Provider interface {
	ID() string
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
}

// ProviderFactory returns the provider for a candidate. Returning nil marks
// the candidate unavailable: it is counted as skipped and never attempted.
type ProviderFactory func(model domain.ModelDescriptor) Provider

// EventSink receives one event per routing outcome. Emit must not block on
// network I/O.
type EventSink interface {
	Emit(ctx context.Context, event domain.RouteEvent)
}

type EventSinkFunc func(ctx context.Context, event domain.RouteEvent)

func (f EventSinkFunc) Emit(ctx context.Context, event domain.RouteEvent) {
	f(ctx, event)
}

type Config struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxJitter            time.Duration
	CacheTTL             time.Duration
	PartitionCacheByUser bool
	// RouteTimeout bounds the whole routing run. Zero means no bound.
	RouteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		MaxJitter:   time.Second,
		CacheTTL:    cache.DefaultTTL,
	}
}

type Router struct {
	registry  Registry
	providers ProviderFactory
	breakers  *circuitbreaker.Manager
	cache     cache.Cache
	sinks     []EventSink
	config    Config

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

type Option func(*Router)

func WithCache(c cache.Cache) Option {
	return func(r *Router) {
		r.cache = c
	}
}

func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(r *Router) {
		r.breakers = m
	}
}

func WithEventSink(sinks ...EventSink) Option {
	return func(r *Router) {
		r.sinks = append(r.sinks, sinks...)
	}
}

func WithConfig(cfg Config) Option {
	return func(r *Router) {
		r.config = cfg
	}
}

func New(registry Registry, providers ProviderFactory, opts ...Option) *Router {
	r := &Router{
		registry:  registry,
		providers: providers,
		breakers:  circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
		config:    DefaultConfig(),
		now:       time.Now,
		sleep:     sleepContext,
		jitter:    randomJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.config.MaxAttempts <= 0 {
		r.config.MaxAttempts = 1
	}

	return r
}

// Route returns a result from the cache or from the first candidate that
// succeeds.
//
// The routing work is detached from ctx: if the caller gives up, Route
// returns ctx.Err() at once while in-flight attempts finish in the
// background and still populate the cache and circuit state.
func (r *Router) Route(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrInvalidRequest)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	ctx, span := telemetry.StartRoute(ctx, req)

	workCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if r.config.RouteTimeout > 0 {
		workCtx, cancel = context.WithTimeout(workCtx, r.config.RouteTimeout)
	}

	type outcome struct {
		result *domain.GenerationResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer cancel()
		result, err := r.route(workCtx, req)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		telemetry.EndRoute(span, o.result, o.err)
		if o.err != nil {
			return nil, o.err
		}
		return o.result, nil
	case <-ctx.Done():
		telemetry.EndRoute(span, nil, ctx.Err())
		slog.Warn("caller stopped waiting, routing continues in background",
			"request_id", req.RequestID,
			"error", ctx.Err(),
		)
		return nil, ctx.Err()
	}
}

func (r *Router) route(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	start := r.now()

	key := cache.GenerateCacheKey(req, r.config.PartitionCacheByUser)
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok {
			latency := r.now().Sub(start).Milliseconds()
			cached.Metadata.CacheHit = true
			cached.Metadata.RequestID = req.RequestID
			cached.Metadata.LatencyMs = latency

			slog.Info("cache hit",
				"request_id", req.RequestID,
				"model", cached.Metadata.ModelUsed,
				"latency_ms", latency,
			)
			r.emit(ctx, domain.RouteEvent{
				Kind:      domain.EventCacheHit,
				RequestID: req.RequestID,
				Model:     cached.Metadata.ModelUsed,
				LatencyMs: latency,
				CacheHit:  true,
			})
			return cached, nil
		}
	}

	candidates := r.registry.Discover(ctx, false)
	failure := &domain.RoutingFailure{}

	for _, model := range candidates {
		if ctx.Err() != nil {
			break
		}

		p := r.providers(model)
		if p == nil {
			failure.Skipped++
			slog.Debug("no provider for model, skipping", "request_id", req.RequestID, "model", model.ID)
			continue
		}

		cb := r.breakers.Get(model.ID)
		state, err := cb.Allow(ctx)
		if err != nil {
			failure.CircuitSkipped++
			slog.Info("circuit open, skipping model", "request_id", req.RequestID, "model", model.ID)
			continue
		}

		maxAttempts := r.config.MaxAttempts
		if state == circuitbreaker.StateHalfOpen {
			maxAttempts = 1
		}

		result, attempts, err := r.attempt(ctx, p, req, maxAttempts)
		if err == nil {
			cb.RecordSuccess(ctx)
			return r.succeed(ctx, req, key, result, attempts, start), nil
		}

		cb.RecordFailure(ctx)
		kind := domain.KindOf(err)
		failure.Failures = append(failure.Failures, domain.CandidateFailure{
			Model:    model.ID,
			Kind:     kind.String(),
			Message:  err.Error(),
			Attempts: attempts,
		})

		circuitState := cb.State(ctx).String()
		slog.Warn("model failed, trying next candidate",
			"request_id", req.RequestID,
			"model", model.ID,
			"error_kind", kind.String(),
			"attempts", attempts,
			"circuit_state", circuitState,
			"error", err,
		)
		r.emit(ctx, domain.RouteEvent{
			Kind:         domain.EventCandidateFailure,
			RequestID:    req.RequestID,
			Model:        model.ID,
			Attempts:     attempts,
			ErrorKind:    kind.String(),
			Error:        err.Error(),
			CircuitState: circuitState,
			LatencyMs:    r.now().Sub(start).Milliseconds(),
		})
	}

	latency := r.now().Sub(start).Milliseconds()
	slog.Error("all candidate models failed",
		"request_id", req.RequestID,
		"failures", len(failure.Failures),
		"circuit_skipped", failure.CircuitSkipped,
		"skipped", failure.Skipped,
		"latency_ms", latency,
	)
	r.emit(ctx, domain.RouteEvent{
		Kind:           domain.EventAggregateFailure,
		RequestID:      req.RequestID,
		LatencyMs:      latency,
		Error:          failure.Error(),
		Failures:       failure.Failures,
		CircuitSkipped: failure.CircuitSkipped,
		Skipped:        failure.Skipped,
	})

	return nil, failure
}

func (r *Router) succeed(ctx context.Context, req domain.GenerationRequest, key string, result *domain.GenerationResult, attempts int, start time.Time) *domain.GenerationResult {
	latency := r.now().Sub(start).Milliseconds()
	result.Metadata.Attempts = attempts
	result.Metadata.LatencyMs = latency
	result.Metadata.CacheHit = false
	if result.Metadata.Timestamp.IsZero() {
		result.Metadata.Timestamp = r.now()
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, result, r.config.CacheTTL); err != nil {
			slog.Warn("failed to cache result", "request_id", req.RequestID, "error", err)
		}
	}

	result.Metadata.RequestID = req.RequestID

	slog.Info("request completed",
		"request_id", req.RequestID,
		"model", result.Metadata.ModelUsed,
		"attempts", attempts,
		"tokens", result.Metadata.TokensUsed,
		"latency_ms", latency,
	)
	r.emit(ctx, domain.RouteEvent{
		Kind:       domain.EventSuccess,
		RequestID:  req.RequestID,
		Model:      result.Metadata.ModelUsed,
		LatencyMs:  latency,
		TokensUsed: result.Metadata.TokensUsed,
		Attempts:   attempts,
	})

	return result
}

// attempt runs the retry loop for one candidate and reports how many
// attempts were made.
func (r *Router) attempt(ctx context.Context, p Provider, req domain.GenerationRequest, maxAttempts int) (*domain.GenerationResult, int, error) {
	var lastErr error

	for i := 0; i < maxAttempts; i++ {
		attemptCtx, span := telemetry.StartAttempt(ctx, p.ID(), i+1)
		result, err := p.Generate(attemptCtx, req)
		telemetry.EndAttempt(span, result, err)
		if err == nil {
			return result, i + 1, nil
		}

		lastErr = err
		if !domain.KindOf(err).Retryable() {
			return nil, i + 1, err
		}
		if i == maxAttempts-1 {
			break
		}

		delay := Backoff(i, r.config.BaseDelay, r.config.MaxDelay, r.jitter(r.config.MaxJitter))
		slog.Debug("retrying model",
			"request_id", req.RequestID,
			"model", p.ID(),
			"attempt", i+1,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, i + 1, errors.Join(lastErr, err)
		}
	}

	return nil, maxAttempts, lastErr
}

// CircuitStates reports the state of every breaker created so far.
func (r *Router) CircuitStates() map[string]string {
	return r.breakers.States()
}

func (r *Router) emit(ctx context.Context, event domain.RouteEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	for _, s := range r.sinks {
		s.Emit(ctx, event)
	}
}

// Backoff returns the wait after the failed attempt with zero-based index
// attempt: base * 2^attempt plus jitter, capped at max.
func Backoff(attempt int, base, max, jitter time.Duration) time.Duration {
	if attempt >= 32 {
		return max
	}
	delay := base<<uint(attempt) + jitter
	if delay > max || delay < 0 {
		return max
	}
	return delay
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
