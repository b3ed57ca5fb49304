package actor

import (
	"context"
	"sync"
)

type envelope struct {
	run  func(ctx context.Context)
	fail func(err error)
	stop bool
}

// mailbox is a FIFO of envelopes. It is unbounded unless limit > 0.
type mailbox struct {
	mu     sync.Mutex
	queue  []envelope
	limit  int
	closed bool
	signal chan struct{}
}

func newMailbox(limit int) *mailbox {
	return &mailbox{limit: limit, signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(e envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if m.limit > 0 && len(m.queue) >= m.limit {
		m.mu.Unlock()
		return ErrMailboxFull
	}
	m.queue = append(m.queue, e)
	m.mu.Unlock()
	m.notify()
	return nil
}

// seal appends a last envelope and rejects everything after it.
func (m *mailbox) seal(e envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.queue = append(m.queue, e)
	m.closed = true
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) ready() <-chan struct{} { return m.signal }

func (m *mailbox) tryPop() (envelope, bool) {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return envelope{}, false
	}
	e := m.queue[0]
	m.queue[0] = envelope{}
	m.queue = m.queue[1:]
	more := len(m.queue) > 0
	m.mu.Unlock()
	if more {
		m.notify()
	}
	return e, true
}

// close rejects further pushes and hands back whatever was still queued.
func (m *mailbox) close() []envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	rest := m.queue
	m.queue = nil
	return rest
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
