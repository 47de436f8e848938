package resilience

import (
	"sync"

	"github.com/cogniforge/qpipeline/core"
)

// Registry is the process-wide mapping from provider name to its circuit
// breaker (§4.3: "maintain a breaker per named provider"). Breakers are
// created lazily on first acquisition with DefaultCircuitBreakerConfig,
// mirroring the teacher's per-name registry pattern in
// resilience/circuit_breaker.go.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	newCfg   func(name string) CircuitBreakerConfig
}

func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		newCfg:   DefaultCircuitBreakerConfig,
	}
}

// NewRegistryWithConfig lets callers override breaker defaults per provider
// name, e.g. to give a slower provider a longer cooldown.
func NewRegistryWithConfig(newCfg func(name string) CircuitBreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		newCfg:   newCfg,
	}
}

// Get returns the breaker for name, creating one if this is the first call
// for that name.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(r.newCfg(name))
	r.breakers[name] = b
	return b
}

// AllAvailable reports whether at least one of the named providers currently
// admits calls. Used by the generator (C7) to decide whether every provider
// is circuit-open and generation must fail outright (§9: in non-distributed
// mode, all-providers-open yields a hard failure rather than a wait).
func (r *Registry) AllAvailable(names []string) bool {
	for _, n := range names {
		if r.Get(n).IsAvailable() {
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time state for every breaker created so far,
// keyed by provider name.
func (r *Registry) Snapshot() map[string]core.CircuitBreakerState {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for name, b := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]core.CircuitBreakerState, len(names))
	for i, name := range names {
		out[name] = breakers[i].State()
	}
	return out
}
