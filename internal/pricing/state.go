package pricing

import "sync"

// State holds per-symbol current and base prices. It is an explicit object
// injected into the oracle and the feed tracker, not process-wide state, so
// the decay math can be tested in isolation.
type State struct {
	mu      sync.RWMutex
	current map[string]float64
	base    map[string]float64
}

// NewState creates an empty price state.
func NewState() *State {
	return &State{
		current: make(map[string]float64),
		base:    make(map[string]float64),
	}
}

// Current returns the last computed price for the symbol.
func (s *State) Current(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.current[symbol]
	return p, ok
}

// SetCurrent stores the current price for the symbol.
func (s *State) SetCurrent(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[symbol] = price
}

// Base returns the configured base price for the symbol.
func (s *State) Base(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.base[symbol]
	return p, ok
}

// SetBase stores the base price for the symbol.
func (s *State) SetBase(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base[symbol] = price
}

// Snapshot returns a copy of all current prices, for display surfaces.
func (s *State) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.current))
	for symbol, price := range s.current {
		out[symbol] = price
	}
	return out
}
