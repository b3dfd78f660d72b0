package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// HealthChecker is one readiness dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name  string
	check func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.check(ctx) }

// NewCheckerFunc adapts a plain function into a HealthChecker.
func NewCheckerFunc(name string, check func(ctx context.Context) error) HealthChecker {
	return checkerFunc{name: name, check: check}
}

// NewRedisChecker pings the shared Redis client used by the cache, breakers
// and limiter.
func NewRedisChecker(client redis.UniversalClient) HealthChecker {
	return NewCheckerFunc("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// NewPostgresChecker pings the model snapshot database.
func NewPostgresChecker(db *sql.DB) HealthChecker {
	return NewCheckerFunc("postgres", db.PingContext)
}

var errNoBackends = errors.New("no model backends configured")

// NewBackendsChecker fails while no upstream backend has credentials, since
// every generation would then fail with a configuration error.
func NewBackendsChecker(names []string) HealthChecker {
	return NewCheckerFunc("backends", func(context.Context) error {
		if len(names) == 0 {
			return errNoBackends
		}
		return nil
	})
}

type readiness struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// runChecks runs every checker concurrently and reports all of them.
func runChecks(ctx context.Context, checkers []HealthChecker) (map[string]checkResult, bool) {
	results := make([]checkResult, len(checkers))

	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)

			results[i] = checkResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "error"
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	g.Wait()

	out := make(map[string]checkResult, len(checkers))
	healthy := true
	for i, c := range checkers {
		out[c.Name()] = results[i]
		if results[i].Status != "ok" {
			healthy = false
		}
	}
	return out, healthy
}

func handleReady(checkers []HealthChecker, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		checks, healthy := runChecks(ctx, checkers)

		resp := readiness{Status: "ready", Version: Version, Checks: checks}
		status := http.StatusOK
		if !healthy {
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
