// Package resolve holds the resolver registry and the default runtime
// behavior for field, reference and abstract type resolution.
package resolve

import (
	"context"
	"sync"

	"github.com/fedgraph/fedgraph/internal/eventbus"
	"github.com/fedgraph/fedgraph/internal/events"
)

// FieldResolver resolves one field of an object value.
type FieldResolver func(ctx context.Context, source any, args map[string]any) (any, error)

// ReferenceResolver resolves an entity from a federation representation
// ({__typename, ...key fields}).
type ReferenceResolver func(ctx context.Context, representation map[string]any) (any, error)

// TypeResolver names the concrete object type of a value typed as an
// interface or union.
type TypeResolver func(ctx context.Context, value any) (string, error)

// Registry maps schema coordinates to resolvers. Registration happens at
// startup; lookups are concurrent-safe.
type Registry struct {
	mu         sync.RWMutex
	fields     map[string]FieldResolver
	references map[string]ReferenceResolver
	types      map[string]TypeResolver
}

func NewRegistry() *Registry {
	return &Registry{
		fields:     make(map[string]FieldResolver),
		references: make(map[string]ReferenceResolver),
		types:      make(map[string]TypeResolver),
	}
}

// Field registers a resolver for objectType.field.
func (r *Registry) Field(objectType, field string, fr FieldResolver) {
	r.mu.Lock()
	r.fields[objectType+"."+field] = fr
	r.mu.Unlock()
}

// Reference registers the entity reference resolver for typeName.
// Registering twice for the same type overwrites: last write wins.
func (r *Registry) Reference(typeName string, rr ReferenceResolver) {
	r.mu.Lock()
	_, collision := r.references[typeName]
	r.references[typeName] = rr
	r.mu.Unlock()
	if collision {
		eventbus.Publish(context.Background(), events.ReferenceResolverCollision{TypeName: typeName})
	}
}

// Type registers the concrete-type resolver for an interface or union.
func (r *Registry) Type(typeName string, tr TypeResolver) {
	r.mu.Lock()
	r.types[typeName] = tr
	r.mu.Unlock()
}

// FieldFor returns the registered resolver for objectType.field, or nil.
func (r *Registry) FieldFor(objectType, field string) FieldResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields[objectType+"."+field]
}

// ReferenceFor returns the registered reference resolver for typeName, or
// nil.
func (r *Registry) ReferenceFor(typeName string) ReferenceResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.references[typeName]
}

// TypeFor returns the registered type resolver for typeName, or nil.
func (r *Registry) TypeFor(typeName string) TypeResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[typeName]
}
