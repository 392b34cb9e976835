package kiosk

import "sync"

// ActionKind identifies one logical verification action. Each kind carries
// its own single-flight flag, so registration and authentication can be in
// flight at the same time while duplicates of either are rejected.
type ActionKind string

const (
	ActionRegistration   ActionKind = "registration"
	ActionAuthentication ActionKind = "authentication"
)

// RequestGate enforces at-most-one in-flight request per action kind.
// Admission and resolution are separated by a network round-trip, so the
// flag guards the window where a second trigger would otherwise also pass
// the "not yet in flight" check.
type RequestGate struct {
	mu       sync.Mutex
	inFlight map[ActionKind]bool
}

func NewRequestGate() *RequestGate {
	return &RequestGate{inFlight: make(map[ActionKind]bool)}
}

// TryAdmit atomically checks and sets the in-flight flag for kind. A false
// return means a prior call of the same kind is still outstanding.
func (g *RequestGate) TryAdmit(kind ActionKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[kind] {
		return false
	}
	g.inFlight[kind] = true
	return true
}

// Release resets the flag for kind. Must be called exactly once per admitted
// call, on every termination path.
func (g *RequestGate) Release(kind ActionKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight[kind] = false
}

// InFlight reports whether an action of this kind is outstanding.
func (g *RequestGate) InFlight(kind ActionKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[kind]
}
