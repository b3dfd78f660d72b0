package provider

import (
	"sort"
	"sync"

	"github.com/felipepmaragno/model-router/internal/domain"
)

// Pool resolves backends by name and memoizes one adapter per model.
type Pool struct {
	mu       sync.Mutex
	backends map[string]Backend
	adapters map[string]*Adapter
}

func NewPool(backends ...Backend) *Pool {
	p := &Pool{
		backends: make(map[string]Backend, len(backends)),
		adapters: make(map[string]*Adapter),
	}
	for _, b := range backends {
		p.backends[b.Name()] = b
	}
	return p
}

// Adapter returns the adapter for model. A model whose backend is not
// registered gets an adapter that reports itself unavailable.
func (p *Pool) Adapter(model domain.ModelDescriptor) *Adapter {
	key := model.Provider + "/" + model.ID

	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.adapters[key]; ok && a.model.OutputTokenLimit == model.OutputTokenLimit {
		return a
	}

	a := NewAdapter(model, p.backends[model.Provider])
	p.adapters[key] = a
	return a
}

func (p *Pool) Backend(name string) (Backend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.backends[name]
	return b, ok
}

// Names lists registered backends in name order.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.backends))
	for name := range p.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
