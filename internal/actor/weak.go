package actor

import "weak"

// WeakRef refers to an actor without keeping it reachable. The zero value
// refers to nothing.
type WeakRef[S any] struct {
	p weak.Pointer[Ref[S]]
}

// Upgrade returns the strong handle while the actor is alive.
func (w WeakRef[S]) Upgrade() (*Ref[S], bool) {
	r := w.p.Value()
	if r == nil || !r.Alive() {
		return nil, false
	}
	return r, true
}
