package engine

import (
	"sort"
	"sync"
	"time"
)

// circuitState tracks consecutive failures for one task name.
type circuitState struct {
	fails     int
	openUntil time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

func (o CircuitOptions) withDefaults() CircuitOptions {
	if o.Cooldown <= 0 {
		o.Cooldown = time.Minute
	}
	if o.MaxCooldown < o.Cooldown {
		o.MaxCooldown = max(o.Cooldown, 30*time.Minute)
	}
	return o
}

// isOpen reports whether enqueues of name are refused at now.
func (s *circuitStore) isOpen(now time.Time, name string, opt CircuitOptions) (time.Time, bool) {
	if opt.Trip <= 0 {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.m[name]
	if st == nil || st.openUntil.IsZero() || !now.Before(st.openUntil) {
		return time.Time{}, false
	}
	return st.openUntil, true
}

// recordResult updates the failure count after a run. It reports whether
// this failure opened the circuit.
func (s *circuitStore) recordResult(now time.Time, name string, opt CircuitOptions, err error) bool {
	if opt.Trip <= 0 {
		return false
	}
	opt = opt.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[name]
	if st == nil {
		st = &circuitState{}
		s.m[name] = st
	}
	if err == nil {
		st.fails = 0
		st.openUntil = time.Time{}
		return false
	}

	st.fails++
	if st.fails < opt.Trip {
		return false
	}
	// Exponential cooldown after tripping.
	d := opt.Cooldown
	for i := 0; i < st.fails-opt.Trip && d < opt.MaxCooldown; i++ {
		d *= 2
	}
	st.openUntil = now.Add(min(d, opt.MaxCooldown))
	return true
}

func (s *circuitStore) open(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, st := range s.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
