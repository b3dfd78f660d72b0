package registry

import (
	"log/slog"

	"charm.land/catwalk/pkg/catwalk"
	"charm.land/catwalk/pkg/embedded"

	"github.com/felipepmaragno/model-router/internal/domain"
)

// CapabilityReasoning marks models the catalog lists as reasoning-capable.
const CapabilityReasoning = "reasoning"

// CatalogEnricher fills token limits and display names that a provider
// listing left empty, using catwalk's embedded model database. Listings such
// as OpenAI's carry no limits at all.
type CatalogEnricher struct {
	models map[string]catwalk.Model
}

func NewCatalogEnricher() *CatalogEnricher {
	models := make(map[string]catwalk.Model)
	for _, provider := range embedded.GetAll() {
		for _, m := range provider.Models {
			if _, ok := models[m.ID]; !ok {
				models[m.ID] = m
			}
		}
	}

	slog.Debug("loaded model catalog", "count", len(models))

	return &CatalogEnricher{models: models}
}

func (e *CatalogEnricher) Enrich(d *domain.ModelDescriptor) {
	m, ok := e.models[d.ID]
	if !ok {
		return
	}

	if d.InputTokenLimit == 0 && m.ContextWindow > 0 {
		d.InputTokenLimit = int(m.ContextWindow)
	}
	if d.OutputTokenLimit == 0 && m.DefaultMaxTokens > 0 {
		d.OutputTokenLimit = int(m.DefaultMaxTokens)
	}
	if d.DisplayName == "" {
		d.DisplayName = m.Name
	}
	if m.CanReason && !d.HasCapability(CapabilityReasoning) {
		d.Capabilities = capabilities(append(d.Capabilities, CapabilityReasoning))
	}
}
