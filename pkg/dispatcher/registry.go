package dispatcher

import (
	"fmt"
	"sort"

	"mercator-hq/webrelay/pkg/providers"
)

// Registry maps canonical model IDs to the adapter serving them. It is
// immutable after construction.
type Registry struct {
	byModel  map[string]providers.Adapter
	adapters []providers.Adapter
}

// NewRegistry builds a registry from adapters. Two adapters claiming the
// same model is a configuration error.
func NewRegistry(adapters ...providers.Adapter) (*Registry, error) {
	r := &Registry{byModel: make(map[string]providers.Adapter)}

	for _, a := range adapters {
		for _, model := range a.Models() {
			if owner, ok := r.byModel[model]; ok {
				return nil, &DuplicateModelError{Model: model, First: owner.Name(), Second: a.Name()}
			}
			r.byModel[model] = a
		}
		r.adapters = append(r.adapters, a)
	}

	return r, nil
}

// Lookup returns the adapter serving model.
func (r *Registry) Lookup(model string) (providers.Adapter, bool) {
	a, ok := r.byModel[model]
	return a, ok
}

// Models returns every served model ID in sorted order.
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Owner returns the backend name serving model, or "".
func (r *Registry) Owner(model string) string {
	if a, ok := r.byModel[model]; ok {
		return a.Name()
	}
	return ""
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []providers.Adapter {
	return r.adapters
}

// DuplicateModelError is returned when two adapters claim one model.
type DuplicateModelError struct {
	Model  string
	First  string
	Second string
}

// Error implements the error interface.
func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("model %q is served by both %q and %q", e.Model, e.First, e.Second)
}
