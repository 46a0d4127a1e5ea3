package tile

import (
	"slices"
	"sync"
)

// SplitJoinRequestListener is told that the division state for key changed
// and tiles should re-evaluate whether to split or join.
type SplitJoinRequestListener func(key string)

type splitJoinEntry struct {
	fn SplitJoinRequestListener
}

// Session holds the division overrides of one rendering session, keyed by
// divider key.
//
// The hold generation freezes division at a depth: while the override is on,
// tiles split if and only if their generation is below it. Changing either
// value notifies the split/join listeners of that key, outside the lock and
// in registration order.
//
// Session is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	holds     map[string]int
	overrides map[string]bool
	listeners map[string][]*splitJoinEntry
}

// NewSession returns a session with no overrides.
func NewSession() *Session {
	return &Session{
		holds:     make(map[string]int),
		overrides: make(map[string]bool),
		listeners: make(map[string][]*splitJoinEntry),
	}
}

// HoldGeneration returns the hold generation for key, or -1 if unset.
func (s *Session) HoldGeneration(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdLocked(key)
}

// SetHoldGeneration sets the hold generation for key. A negative value
// clears it.
func (s *Session) SetHoldGeneration(key string, gen int) {
	gen = max(gen, -1)

	s.mu.Lock()
	if s.holdLocked(key) == gen {
		s.mu.Unlock()
		return
	}
	if gen < 0 {
		delete(s.holds, key)
	} else {
		s.holds[key] = gen
	}
	listeners := s.listeners[key]
	s.mu.Unlock()

	notify(key, listeners)
}

func (s *Session) holdLocked(key string) int {
	if g, ok := s.holds[key]; ok {
		return g
	}
	return -1
}

// Override reports whether the division override is on for key.
func (s *Session) Override(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides[key]
}

// SetOverride turns the division override for key on or off.
func (s *Session) SetOverride(key string, on bool) {
	s.mu.Lock()
	if s.overrides[key] == on {
		s.mu.Unlock()
		return
	}
	if on {
		s.overrides[key] = true
	} else {
		delete(s.overrides, key)
	}
	listeners := s.listeners[key]
	s.mu.Unlock()

	notify(key, listeners)
}

// AddSplitJoinListener registers fn for changes to key and returns a
// function that unregisters it.
func (s *Session) AddSplitJoinListener(key string, fn SplitJoinRequestListener) (remove func()) {
	e := &splitJoinEntry{fn: fn}

	s.mu.Lock()
	s.listeners[key] = append(slices.Clip(s.listeners[key]), e)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.listeners[key]
		i := slices.Index(list, e)
		if i < 0 {
			return
		}
		if len(list) == 1 {
			delete(s.listeners, key)
			return
		}
		s.listeners[key] = slices.Delete(slices.Clone(list), i, i+1)
	}
}

func notify(key string, listeners []*splitJoinEntry) {
	for _, e := range listeners {
		e.fn(key)
	}
}
