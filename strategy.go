package togglekit

import (
	"fmt"
	"sync"
)

// Strategy decides whether a toggle is active for a given request. The
// parameters come from the server-side toggle definition; the context is the
// merged static and per-call context. Implementations must be side-effect
// free and safe for concurrent use.
type Strategy interface {
	// Name identifies the strategy in toggle definitions.
	Name() string

	// IsEnabled evaluates the activation predicate.
	IsEnabled(parameters map[string]string, ctx Context) bool
}

// strategyRegistry holds the built-in and caller-supplied strategies keyed
// by name. Registering a strategy whose name collides with a built-in
// replaces it.
type strategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func newStrategyRegistry(builtins ...Strategy) *strategyRegistry {
	r := &strategyRegistry{strategies: make(map[string]Strategy, len(builtins))}
	for _, s := range builtins {
		r.register(s)
	}
	return r
}

func (r *strategyRegistry) register(s Strategy) {
	if s == nil || s.Name() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

func (r *strategyRegistry) lookup(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

func (r *strategyRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}

// evaluate applies the activation rules: a disabled toggle is never active,
// an enabled toggle without strategies is always active, otherwise the
// ordered strategy list is OR-ed with short-circuit on the first match.
// An unresolved strategy name counts as false for that entry and emits one
// warn per occurrence — evaluation never fails.
func (r *strategyRegistry) evaluate(t *Toggle, ctx Context, emit emitFunc) bool {
	if t == nil || !t.Enabled {
		return false
	}
	if len(t.Strategies) == 0 {
		return true
	}

	for _, constraint := range t.Strategies {
		s, ok := r.lookup(constraint.Name)
		if !ok {
			if emit != nil {
				emit(Event{
					Kind:       EventWarn,
					ToggleName: t.Name,
					Message:    fmt.Sprintf("unknown strategy %q, counting as inactive", constraint.Name),
				})
			}
			continue
		}
		if s.IsEnabled(constraint.Parameters, ctx) {
			return true
		}
	}
	return false
}
