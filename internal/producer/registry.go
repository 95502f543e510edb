package producer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrDuplicate is returned when a name is registered twice.
var ErrDuplicate = errors.New("producer already registered")

type entry struct {
	spec     Spec
	producer Producer
}

// Registry holds producers keyed by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a producer under spec.Name.
func (r *Registry) Register(spec Spec, p Producer) error {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return fmt.Errorf("producer name required")
	}
	if p == nil {
		return fmt.Errorf("producer %s: nil implementation", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, spec.Name)
	}
	r.entries[spec.Name] = entry{spec: spec.clone(), producer: p}
	return nil
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Spec returns the spec registered under name.
func (r *Registry) Spec(name string) (Spec, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Spec{}, false
	}
	return e.spec.clone(), true
}

// Specs returns every registered spec sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.spec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	specs := r.Specs()
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Select returns the producers whose keyword score for query is above floor,
// plus every AlwaysActive producer, sorted by name.
func (r *Registry) Select(query string, floor float64) []string {
	var out []string
	for _, s := range r.Specs() {
		if s.AlwaysActive || KeywordScore(s.Tags, query) > floor {
			out = append(out, s.Name)
		}
	}
	return out
}
