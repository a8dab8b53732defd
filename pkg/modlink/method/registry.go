package method

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
)

// ErrNoMethod is wrapped by SelectFor when no registered method qualifies.
var ErrNoMethod = errors.New("no deployment method active")

// Registry holds methods in registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	methods map[string]Method
}

// NewRegistry returns a registry holding methods in the given order.
func NewRegistry(methods ...Method) *Registry {
	r := &Registry{methods: make(map[string]Method)}
	for _, m := range methods {
		r.Register(m)
	}
	return r
}

// Default returns a registry with the built-in methods. order lists method
// ids by preference; unknown ids are ignored and omitted built-ins are
// appended.
func Default(order []string, opts ...Option) *Registry {
	builtin := map[string]func(...Option) Method{
		HardlinkID: NewHardlink,
		SymlinkID:  NewSymlink,
		CopyID:     NewCopy,
	}
	r := NewRegistry()
	for _, id := range append(append([]string(nil), order...), HardlinkID, SymlinkID, CopyID) {
		if ctor, ok := builtin[id]; ok {
			r.Register(ctor(opts...))
			delete(builtin, id)
		}
	}
	return r
}

// Register adds m, replacing a method with the same id in place.
func (r *Registry) Register(m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.Descriptor().ID
	if _, exists := r.methods[id]; !exists {
		r.order = append(r.order, id)
	}
	r.methods[id] = m
}

// Get returns the method with the given id.
func (r *Registry) Get(id string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[id]
	return m, ok
}

// All returns the methods in registration order.
func (r *Registry) All() []Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Method, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.methods[id])
	}
	return out
}

// IDs returns the registered ids in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SupportsAll returns nil when m supports every query, or the first reason
// it does not.
func SupportsAll(m Method, queries []SupportQuery) error {
	for _, q := range queries {
		if err := m.IsSupported(q); err != nil {
			return err
		}
	}
	return nil
}

// SelectFor returns the first method, in registration order, that supports
// every query and is not excluded. It fails with a ProcessCanceled error
// listing why each candidate was rejected.
func (r *Registry) SelectFor(queries []SupportQuery, excluded func(id string) bool) (Method, error) {
	var reasons []error
	for _, m := range r.All() {
		id := m.Descriptor().ID
		if excluded != nil && excluded(id) {
			reasons = append(reasons, fmt.Errorf("%s: incompatible with game", id))
			continue
		}
		if err := SupportsAll(m, queries); err != nil {
			reasons = append(reasons, err)
			continue
		}
		return m, nil
	}
	err := ErrNoMethod
	if len(reasons) > 0 {
		err = fmt.Errorf("%w: %w", ErrNoMethod, errors.Join(reasons...))
	}
	return nil, &deployerr.Error{Kind: deployerr.KindProcessCanceled, Op: "select method", Err: err}
}
