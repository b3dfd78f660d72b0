// Package circuitbreaker isolates failing models so the router stops spending
// attempts on them.
//
// States:
//   - Closed: requests pass through, consecutive failures are counted
//   - Open: requests are skipped until the reset timeout elapses
//   - Half-Open: exactly one probe request is let through; its outcome
//     closes or re-opens the circuit
//
// Transitions are evaluated lazily inside Allow. Nothing runs on a timer.
//
// Implementations:
//   - InMemoryCircuitBreaker: single instance, guarded by a mutex
//   - RedisCircuitBreaker: shared between instances, Lua scripts for atomicity
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
)

// CircuitBreaker is the per-model breaker used by the router.
type CircuitBreaker interface {
	// Allow reports whether a request may be sent. It returns the state the
	// request runs under (closed, or half-open for the single probe) or
	// ErrCircuitBreakerOpen when the request must be skipped.
	Allow(ctx context.Context) (State, error)

	// RecordSuccess closes the circuit and clears the failure count.
	RecordSuccess(ctx context.Context)

	// RecordFailure counts a failure; reaching the threshold, or failing the
	// half-open probe, opens the circuit.
	RecordFailure(ctx context.Context)

	State(ctx context.Context) State

	Snapshot(ctx context.Context) Snapshot
}

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	State               State     `json:"-"`
	OpenUntil           time.Time `json:"open_until,omitempty"`
}

// Config defines circuit breaker behavior.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	Timeout          time.Duration // time spent open before a probe is allowed
}

// DefaultConfig returns the router defaults: open after 3 consecutive
// failures, probe again after 30 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Timeout:          30 * time.Second,
	}
}

type InMemoryCircuitBreaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
	probing   bool
	config    Config
	now       func() time.Time
}

func NewInMemory(cfg Config) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
	}
}

func (cb *InMemoryCircuitBreaker) Allow(ctx context.Context) (State, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.openUntil) {
			return StateOpen, domain.ErrCircuitBreakerOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return StateHalfOpen, nil
	case StateHalfOpen:
		if cb.probing {
			return StateHalfOpen, domain.ErrCircuitBreakerOpen
		}
		cb.probing = true
		return StateHalfOpen, nil
	}

	return StateClosed, nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
	cb.openUntil = time.Time{}
}

func (cb *InMemoryCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

// trip opens the circuit. Callers hold mu.
func (cb *InMemoryCircuitBreaker) trip() {
	cb.state = StateOpen
	cb.probing = false
	cb.openUntil = cb.now().Add(cb.config.Timeout)
}

func (cb *InMemoryCircuitBreaker) State(ctx context.Context) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *InMemoryCircuitBreaker) Snapshot(ctx context.Context) Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		ConsecutiveFailures: cb.failures,
		State:               cb.state,
		OpenUntil:           cb.openUntil,
	}
}

func (cb *InMemoryCircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Manager holds one circuit breaker per model ID.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
	config   Config
	factory  func(modelID string) CircuitBreaker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFactory overrides how breakers are created.
func WithFactory(factory func(modelID string) CircuitBreaker) ManagerOption {
	return func(m *Manager) {
		m.factory = factory
	}
}

// NewManager creates a manager backed by in-memory breakers unless an option
// says otherwise.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]CircuitBreaker),
		config:   cfg,
		factory: func(modelID string) CircuitBreaker {
			return NewInMemory(cfg)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get returns the circuit breaker for a model, creating one if it doesn't exist.
func (m *Manager) Get(modelID string) CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[modelID]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingCB, ok := m.breakers[modelID]; ok {
		return existingCB
	}

	cb = m.factory(modelID)
	m.breakers[modelID] = cb
	return cb
}

// States returns the current state of all circuit breakers.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string)
	for id, cb := range m.breakers {
		states[id] = cb.State(ctx).String()
	}
	return states
}

// Snapshots returns a snapshot of every breaker created so far.
func (m *Manager) Snapshots(ctx context.Context) map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshots := make(map[string]Snapshot, len(m.breakers))
	for id, cb := range m.breakers {
		snapshots[id] = cb.Snapshot(ctx)
	}
	return snapshots
}
