// Package registry discovers which models can currently be invoked and keeps
// a ranked, time-boxed list of them.
//
// Discovery never fails from the caller's point of view: when every source is
// unavailable the registry serves a hard-coded fallback list, so the router
// always has at least one candidate.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
)

const (
	DefaultTTL         = 24 * time.Hour
	DefaultFallbackTTL = 5 * time.Minute
	DefaultMaxModels   = 5
)

var errNoModels = errors.New("discovery returned no usable models")

// Lister is an external "list available models" capability.
type Lister interface {
	ListModels(ctx context.Context) ([]domain.DiscoveredModel, error)
}

// Enricher fills gaps in a descriptor from a secondary source.
type Enricher interface {
	Enrich(d *domain.ModelDescriptor)
}

// DefaultFallback is the list served when discovery is impossible.
func DefaultFallback() []domain.ModelDescriptor {
	ids := []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-2.0-flash-lite"}
	names := []string{"Gemini 2.5 Flash", "Gemini 2.0 Flash", "Gemini 2.0 Flash-Lite"}

	models := make([]domain.ModelDescriptor, len(ids))
	for i, id := range ids {
		models[i] = domain.ModelDescriptor{
			ID:               id,
			DisplayName:      names[i],
			Provider:         "gemini",
			InputTokenLimit:  1048576,
			OutputTokenLimit: 8192,
			PriorityRank:     i,
			Capabilities:     []string{domain.ActionGenerateContent},
		}
	}
	return models
}

// ParseFallback builds a fallback list from "provider/model" entries, best
// first. Entries without a provider prefix are taken as Gemini models.
func ParseFallback(entries []string) []domain.ModelDescriptor {
	models := make([]domain.ModelDescriptor, 0, len(entries))
	for _, entry := range entries {
		provider, id, ok := strings.Cut(entry, "/")
		if !ok {
			provider, id = "gemini", entry
		}
		if id == "" {
			continue
		}
		models = append(models, domain.ModelDescriptor{
			ID:           id,
			DisplayName:  id,
			Provider:     provider,
			PriorityRank: len(models),
			Capabilities: []string{domain.ActionGenerateContent},
		})
	}
	return models
}

type Registry struct {
	lister      Lister
	store       SnapshotStore
	policy      RankPolicy
	enricher    Enricher
	ttl         time.Duration
	fallbackTTL time.Duration
	maxModels   int
	fallback    []domain.ModelDescriptor
	now         func() time.Time

	mu        sync.RWMutex
	models    []domain.ModelDescriptor
	expiresAt time.Time
}

type Option func(*Registry)

func WithSnapshotStore(store SnapshotStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

func WithRankPolicy(policy RankPolicy) Option {
	return func(r *Registry) {
		r.policy = policy
	}
}

func WithEnricher(enricher Enricher) Option {
	return func(r *Registry) {
		r.enricher = enricher
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

func WithFallbackTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.fallbackTTL = ttl
	}
}

func WithMaxModels(n int) Option {
	return func(r *Registry) {
		r.maxModels = n
	}
}

func WithFallback(models []domain.ModelDescriptor) Option {
	return func(r *Registry) {
		r.fallback = models
	}
}

// New creates a registry. A nil lister means discovery always falls back.
func New(lister Lister, opts ...Option) *Registry {
	r := &Registry{
		lister:      lister,
		store:       NopStore{},
		policy:      DefaultTierPolicy(),
		ttl:         DefaultTTL,
		fallbackTTL: DefaultFallbackTTL,
		maxModels:   DefaultMaxModels,
		fallback:    DefaultFallback(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Discover returns the ranked candidate list, best first.
//
// Without forceRefresh it serves the in-memory list while it is younger than
// the TTL, then a persisted snapshot under the same rule, and only then asks
// the lister. forceRefresh goes straight to the lister.
func (r *Registry) Discover(ctx context.Context, forceRefresh bool) []domain.ModelDescriptor {
	now := r.now()

	if !forceRefresh {
		r.mu.RLock()
		if r.models != nil && now.Before(r.expiresAt) {
			models := cloneModels(r.models)
			r.mu.RUnlock()
			return models
		}
		r.mu.RUnlock()

		if snap, err := r.store.Load(ctx); err != nil {
			slog.Warn("failed to load model snapshot", "error", err)
		} else if snap != nil && len(snap.Models) > 0 && now.Sub(snap.SavedAt) < r.ttl {
			r.publish(snap.Models, snap.SavedAt.Add(r.ttl))
			return cloneModels(snap.Models)
		}
	}

	models, err := r.fetch(ctx)
	if err != nil {
		slog.Warn("model discovery failed, using fallback list",
			"error", err,
			"fallback_count", len(r.fallback),
		)
		fallback := cloneModels(r.fallback)
		for i := range fallback {
			fallback[i].DiscoveredAt = now
		}
		r.publish(fallback, now.Add(r.fallbackTTL))
		return cloneModels(fallback)
	}

	if err := r.store.Save(ctx, &Snapshot{Models: models, SavedAt: now}); err != nil {
		slog.Warn("failed to persist model snapshot", "error", err)
	}

	r.publish(models, now.Add(r.ttl))

	slog.Info("model discovery completed", "count", len(models), "primary", models[0].ID)

	return cloneModels(models)
}

// PrimaryModel returns the best-ranked model.
func (r *Registry) PrimaryModel(ctx context.Context) domain.ModelDescriptor {
	return r.Discover(ctx, false)[0]
}

func (r *Registry) IsModelAvailable(ctx context.Context, id string) bool {
	for _, m := range r.Discover(ctx, false) {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (r *Registry) fetch(ctx context.Context) ([]domain.ModelDescriptor, error) {
	if r.lister == nil {
		return nil, errors.New("no model lister configured")
	}

	raw, err := r.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	seen := make(map[string]bool)
	var models []domain.ModelDescriptor
	for _, m := range Filter(raw) {
		id := normalizeID(m.Name)
		if seen[id] {
			continue
		}
		seen[id] = true

		d := domain.ModelDescriptor{
			ID:               id,
			DisplayName:      m.DisplayName,
			Provider:         m.Provider,
			InputTokenLimit:  m.InputTokenLimit,
			OutputTokenLimit: m.OutputTokenLimit,
			Capabilities:     capabilities(m.SupportedActions),
			DiscoveredAt:     now,
		}
		if r.enricher != nil {
			r.enricher.Enrich(&d)
		}
		if d.DisplayName == "" {
			d.DisplayName = id
		}
		models = append(models, d)
	}

	if len(models) == 0 {
		return nil, errNoModels
	}

	models = Rank(models, r.policy)
	if len(models) > r.maxModels {
		models = models[:r.maxModels]
	}
	return models, nil
}

func (r *Registry) publish(models []domain.ModelDescriptor, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = cloneModels(models)
	r.expiresAt = expiresAt
}

func capabilities(actions []string) []string {
	set := make(map[string]bool, len(actions))
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		if !set[a] {
			set[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

func cloneModels(models []domain.ModelDescriptor) []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, len(models))
	for i, m := range models {
		m.Capabilities = append([]string(nil), m.Capabilities...)
		out[i] = m
	}
	return out
}
