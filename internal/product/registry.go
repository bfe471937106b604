package product

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Sentinel errors for the product package.
var (
	// ErrProductAlreadyRegistered is returned when registering a duplicate name or alias.
	ErrProductAlreadyRegistered = errors.New("product already registered")

	// ErrUnknownProduct is returned when no product matches a name.
	ErrUnknownProduct = errors.New("unknown product")
)

// Registry holds the available product definitions.
type Registry struct {
	mu       sync.RWMutex
	products map[Type]*Definition
	aliases  map[string]Type
	order    []Type // Maintains registration order
}

// NewRegistry creates an empty product registry.
func NewRegistry() *Registry {
	return &Registry{
		products: make(map[Type]*Definition),
		aliases:  make(map[string]Type),
		order:    make([]Type, 0),
	}
}

// Register adds a product definition.
// Returns an error if the name or any alias is already taken.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.products[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrProductAlreadyRegistered, def.Name)
	}
	if owner, exists := r.aliases[string(def.Name)]; exists {
		return fmt.Errorf("%w: %s (alias of %s)", ErrProductAlreadyRegistered, def.Name, owner)
	}
	for _, a := range def.Aliases {
		if _, exists := r.products[Type(a)]; exists {
			return fmt.Errorf("%w: alias %s", ErrProductAlreadyRegistered, a)
		}
		if _, exists := r.aliases[a]; exists {
			return fmt.Errorf("%w: alias %s", ErrProductAlreadyRegistered, a)
		}
	}

	r.products[def.Name] = def
	for _, a := range def.Aliases {
		r.aliases[a] = def.Name
	}
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns a product by name or alias.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.ToLower(strings.TrimSpace(name))
	if def, ok := r.products[Type(name)]; ok {
		return def, nil
	}
	if t, ok := r.aliases[name]; ok {
		return r.products[t], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, name)
}

// List returns all products in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.products[name])
	}
	return defs
}

// Names returns all product names in registration order.
func (r *Registry) Names() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]Type, len(r.order))
	copy(names, r.order)
	return names
}
