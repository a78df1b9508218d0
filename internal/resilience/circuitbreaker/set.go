package circuitbreaker

import "sync"

// Set holds one Breaker per provider, constructed lazily from a config
// function so per-provider overrides apply without pre-registration.
type Set struct {
	mu       sync.Mutex
	cfgFor   func(provider string) Config
	breakers map[string]*Breaker
}

// NewSet creates a breaker set. cfgFor supplies the configuration for each
// provider id; DefaultConfig is used when cfgFor is nil.
func NewSet(cfgFor func(provider string) Config) *Set {
	if cfgFor == nil {
		cfgFor = DefaultConfig
	}
	return &Set{
		cfgFor:   cfgFor,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for the provider, creating it on first use.
func (s *Set) For(provider string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[provider]
	if !ok {
		b = New(s.cfgFor(provider))
		s.breakers[provider] = b
	}
	return b
}

// States returns the current state name of every breaker in the set.
func (s *Set) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.breakers))
	for provider, b := range s.breakers {
		out[provider] = b.State()
	}
	return out
}
