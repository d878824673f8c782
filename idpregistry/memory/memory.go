// Package memory provides an in-process idpregistry.Registry. Mappings do
// not survive a restart; it is meant for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
)

// Registry implements idpregistry.Registry with a mutex-guarded map.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]idpregistry.Mapping
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{mappings: make(map[string]idpregistry.Mapping)}
}

// Register stores m unless a mapping with the same IDPID already exists.
func (r *Registry) Register(ctx context.Context, m idpregistry.Mapping) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", idpregistry.ErrInvalidMapping, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mappings[m.IDPID]; ok {
		return false, nil
	}
	r.mappings[m.IDPID] = m
	return true, nil
}

// Lookup returns a copy of the mapping for idpID.
func (r *Registry) Lookup(ctx context.Context, idpID string) (*idpregistry.Mapping, error) {
	r.mu.RLock()
	m, ok := r.mappings[idpID]
	r.mu.RUnlock()
	if !ok {
		return nil, idpregistry.ErrUnknownIDP
	}
	return &m, nil
}

// Close is a no-op.
func (r *Registry) Close() error { return nil }

var _ idpregistry.Registry = (*Registry)(nil)
