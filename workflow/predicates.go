package workflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-formflow/field"
)

// Predicate is an authorization check evaluated against the acting caller and
// the validated values of the document.
type Predicate func(actor Actor, values field.ValueMap) bool

// PredicateRegistry stores named predicates referenced by Guard.Predicate.
type PredicateRegistry struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
	namespacer func(string, string) string
}

// NewPredicateRegistry creates an empty registry.
func NewPredicateRegistry() *PredicateRegistry {
	return &PredicateRegistry{
		predicates: make(map[string]Predicate),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes how predicate names are namespaced.
func (r *PredicateRegistry) SetNamespacer(fn func(string, string) string) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.namespacer = fn
	r.mu.Unlock()
}

// Register stores a predicate by name.
func (r *PredicateRegistry) Register(name string, fn Predicate) error {
	return r.RegisterNamespaced("", name, fn)
}

// RegisterNamespaced stores a predicate under namespace+name.
func (r *PredicateRegistry) RegisterNamespaced(namespace, name string, fn Predicate) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("predicate name required")
	}
	if fn == nil {
		return fmt.Errorf("predicate %s: nil function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.predicates == nil {
		r.predicates = make(map[string]Predicate)
	}
	key := name
	if r.namespacer != nil {
		key = r.namespacer(namespace, name)
	}
	if _, exists := r.predicates[key]; exists {
		return fmt.Errorf("predicate %s already registered", key)
	}
	r.predicates[key] = fn
	return nil
}

// Lookup retrieves a predicate by its full name.
func (r *PredicateRegistry) Lookup(name string) (Predicate, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.predicates[name]
	return fn, ok
}

// Names lists registered predicate names.
func (r *PredicateRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.predicates))
	for name := range r.predicates {
		out = append(out, name)
	}
	return out
}

// defaultNamespace joins namespace and name with ::.
func defaultNamespace(namespace, name string) string {
	ns := strings.TrimSpace(namespace)
	ident := strings.TrimSpace(name)
	if ns == "" {
		return ident
	}
	return ns + "::" + ident
}
