package scanner

import (
	"fmt"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

// Registry keeps a mapping from source names to their fetchers.
type Registry struct {
	sources map[domain.Source]ports.ArticleSource
	order   []domain.Source
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[domain.Source]ports.ArticleSource{}}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(source ports.ArticleSource) {
	if r.sources == nil {
		r.sources = map[domain.Source]ports.ArticleSource{}
	}
	name := source.Name()
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = source
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name domain.Source) (ports.ArticleSource, error) {
	if source, ok := r.sources[name]; ok {
		return source, nil
	}
	return nil, fmt.Errorf("source %s is not registered", name)
}

// All returns every registered source in registration order.
func (r *Registry) All() []ports.ArticleSource {
	sources := make([]ports.ArticleSource, 0, len(r.order))
	for _, name := range r.order {
		sources = append(sources, r.sources[name])
	}
	return sources
}
