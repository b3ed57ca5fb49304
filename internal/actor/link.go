package actor

// Node is any actor that can take part in a link.
type Node interface {
	Name() string
	Err() error
	Done() <-chan struct{}

	nodeID() uint64
	link(peer Node) bool
	unlink(id uint64)
	peerDied(peer string, reason error)
}

// Link ties the lifetimes of a and b together: when either terminates
// abnormally the other is killed with a LinkDiedError. Graceful stops do not
// propagate. Linking to an actor that already died abnormally kills the other
// side immediately.
func Link(a, b Node) {
	if !a.link(b) {
		if err := a.Err(); err != nil {
			b.peerDied(a.Name(), err)
		}
		return
	}
	if !b.link(a) {
		a.unlink(b.nodeID())
		if err := b.Err(); err != nil {
			a.peerDied(b.Name(), err)
		}
	}
}

func Unlink(a, b Node) {
	a.unlink(b.nodeID())
	b.unlink(a.nodeID())
}

func (r *Ref[S]) nodeID() uint64 { return r.id }

func (r *Ref[S]) link(peer Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.links[peer.nodeID()] = peer
	return true
}

func (r *Ref[S]) unlink(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.links != nil {
		delete(r.links, id)
	}
}

func (r *Ref[S]) peerDied(peer string, reason error) {
	r.cancel(&LinkDiedError{Peer: peer, Reason: reason})
}
