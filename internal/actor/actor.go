// Package actor runs components as isolated goroutines that own their state
// and are driven by messages from a private mailbox.
//
// A message is a closure over the actor's state. It is executed on the
// actor's goroutine, one at a time, in arrival order, so state needs no
// locking. Tell sends without waiting, Ask waits for a typed reply.
package actor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/sirupsen/logrus"
)

// Starter is implemented by states that need setup before the first message.
// A returned error terminates the actor abnormally.
type Starter[S any] interface {
	OnStart(ctx context.Context, self *Ref[S]) error
}

// Stopper is implemented by states that need teardown. reason is nil for a
// graceful stop.
type Stopper interface {
	OnStop(ctx context.Context, reason error)
}

type Option func(*config)

type config struct {
	limit int
}

// WithMailboxLimit bounds the mailbox. Sends to a full mailbox fail with
// ErrMailboxFull instead of blocking.
func WithMailboxLimit(n int) Option {
	return func(c *config) { c.limit = n }
}

type loopKey struct{}

var nextID atomic.Uint64

// Ref is a strong handle to a running actor.
type Ref[S any] struct {
	id     uint64
	name   string
	state  *S
	mb     *mailbox
	ctx    context.Context
	cancel context.CancelCauseFunc
	log    *logrus.Entry

	started  chan struct{}
	done     chan struct{}
	startErr error

	// owned by the actor goroutine
	loopCtx context.Context
	stopReq bool

	mu      sync.Mutex
	stopped bool
	reason  error
	links   map[uint64]Node
}

// Spawn starts an actor named name around state.
func Spawn[S any](name string, state *S, opts ...Option) *Ref[S] {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	r := &Ref[S]{
		id:      nextID.Add(1),
		name:    name,
		state:   state,
		mb:      newMailbox(cfg.limit),
		ctx:     ctx,
		cancel:  cancel,
		log:     logrus.WithField("actor", name),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		links:   make(map[uint64]Node),
	}
	go r.run()
	return r
}

func (r *Ref[S]) Name() string { return r.name }

// Done is closed once the actor has fully terminated.
func (r *Ref[S]) Done() <-chan struct{} { return r.done }

// Err returns the termination reason; nil while running or after a graceful stop.
func (r *Ref[S]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func (r *Ref[S]) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped
}

// Pending reports the number of queued, unprocessed messages.
func (r *Ref[S]) Pending() int { return r.mb.len() }

// Tell enqueues fn without waiting for it to run.
func (r *Ref[S]) Tell(fn func(ctx context.Context, state *S)) error {
	err := r.mb.push(envelope{run: func(ctx context.Context) { fn(ctx, r.state) }})
	if err != nil {
		return r.rejected(err)
	}
	return nil
}

// Ping waits for startup to finish and for the actor to answer a message.
// It returns the startup error if OnStart failed.
func (r *Ref[S]) Ping(ctx context.Context) error {
	select {
	case <-r.started:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.startErr != nil {
		return r.startErr
	}
	_, err := Ask(ctx, r, func(context.Context, *S) (struct{}, error) { return struct{}{}, nil })
	return err
}

// StopGracefully lets already queued messages run, then stops the actor.
// Messages sent afterwards are rejected.
func (r *Ref[S]) StopGracefully() error {
	if err := r.mb.seal(envelope{stop: true}); err != nil {
		return r.rejected(err)
	}
	return nil
}

func (r *Ref[S]) WaitForStop(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill stops the actor abnormally; linked actors are killed too.
func (r *Ref[S]) Kill() { r.cancel(ErrKilled) }

// Downgrade returns a weak handle that does not keep the actor reachable.
func (r *Ref[S]) Downgrade() WeakRef[S] {
	return WeakRef[S]{p: weak.Make(r)}
}

func (r *Ref[S]) rejected(err error) error {
	if err == ErrNotRunning {
		return r.notRunning()
	}
	return err
}

func (r *Ref[S]) notRunning() error {
	return &StoppedError{Actor: r.name, Reason: r.Err()}
}

func (r *Ref[S]) run() {
	defer close(r.done)
	r.loopCtx = context.WithValue(r.ctx, loopKey{}, r.id)
	reason := r.start(r.loopCtx)
	close(r.started)
	if reason == nil {
		reason = r.loop(r.loopCtx)
	}
	r.terminate(reason)
}

func (r *Ref[S]) start(ctx context.Context) (err error) {
	s, ok := any(r.state).(Starter[S])
	if !ok {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Actor: r.name, Value: v, Stack: debug.Stack()}
		}
		if err != nil {
			r.startErr = &StartupError{Actor: r.name, Err: err}
			err = r.startErr
		}
	}()
	return s.OnStart(ctx, r)
}

func (r *Ref[S]) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-r.mb.ready():
		}
		for {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			e, ok := r.mb.tryPop()
			if !ok {
				break
			}
			if e.stop {
				return nil
			}
			if err := r.handle(ctx, e); err != nil {
				return err
			}
			if r.stopReq {
				return nil
			}
		}
	}
}

func (r *Ref[S]) handle(ctx context.Context, e envelope) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if pe, ok := v.(*PanicError); ok {
				err = pe
				return
			}
			err = &PanicError{Actor: r.name, Value: v, Stack: debug.Stack()}
		}
	}()
	e.run(ctx)
	return nil
}

func (r *Ref[S]) terminate(reason error) {
	r.mu.Lock()
	r.stopped = true
	r.reason = reason
	links := r.links
	r.links = nil
	r.mu.Unlock()

	for _, e := range r.mb.close() {
		if e.fail != nil {
			e.fail(r.notRunning())
		}
	}
	r.cancel(nil)

	if s, ok := any(r.state).(Stopper); ok {
		r.stopHook(s, reason)
	}

	if reason != nil {
		r.log.WithError(reason).Warn("actor terminated abnormally")
	} else {
		r.log.Debug("actor stopped")
	}
	for _, peer := range links {
		peer.unlink(r.id)
		if reason != nil {
			peer.peerDied(r.name, reason)
		}
	}
}

func (r *Ref[S]) stopHook(s Stopper, reason error) {
	defer func() {
		if v := recover(); v != nil {
			r.log.WithField("panic", v).Error("OnStop panicked")
		}
	}()
	s.OnStop(context.WithoutCancel(r.loopCtx), reason)
}

type reply[R any] struct {
	val R
	err error
}

// Ask runs fn on the actor and returns its result. It fails when ctx is done
// or the actor terminates before answering.
func Ask[S, R any](ctx context.Context, r *Ref[S], fn func(ctx context.Context, state *S) (R, error)) (R, error) {
	var zero R
	ch := make(chan reply[R], 1)
	err := r.mb.push(envelope{
		run: func(ctx context.Context) {
			v, err := fn(ctx, r.state)
			ch <- reply[R]{val: v, err: err}
		},
		fail: func(err error) { ch <- reply[R]{err: err} },
	})
	if err != nil {
		return zero, r.rejected(err)
	}
	select {
	case res := <-ch:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
		select {
		case res := <-ch:
			return res.val, res.err
		default:
			return zero, r.notRunning()
		}
	}
}

// Await runs call while keeping self responsive. Called from one of self's
// own handlers, it services self's mailbox until call returns, so call may
// wait on actors that message self back. A stop request seen meanwhile takes
// effect after the current handler returns. If a message served meanwhile
// fails, Await returns that error and the actor terminates with it once the
// current handler returns, even if the handler recovers. Called from
// anywhere else, it simply runs call.
func Await[S, R any](ctx context.Context, self *Ref[S], call func(ctx context.Context) (R, error)) (R, error) {
	if id, _ := ctx.Value(loopKey{}).(uint64); id != self.id {
		return call(ctx)
	}
	ch := make(chan reply[R], 1)
	callCtx := context.WithValue(ctx, loopKey{}, uint64(0))
	go func() {
		v, err := call(callCtx)
		ch <- reply[R]{val: v, err: err}
	}()
	for {
		select {
		case res := <-ch:
			return res.val, res.err
		case <-ctx.Done():
			var zero R
			return zero, ctx.Err()
		case <-self.mb.ready():
			for {
				e, ok := self.mb.tryPop()
				if !ok {
					break
				}
				if e.stop {
					self.stopReq = true
					continue
				}
				if err := self.handle(self.loopCtx, e); err != nil {
					self.cancel(err)
					var zero R
					return zero, err
				}
			}
		}
	}
}

// WithCaller derives a context from a handler's context that is also done
// when the caller's context is, and carries the caller's deadline.
func WithCaller(handler, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(handler)
	if dl, ok := caller.Deadline(); ok {
		var cancelDl context.CancelFunc
		ctx, cancelDl = context.WithDeadline(ctx, dl)
		prev := cancel
		cancel = func() { cancelDl(); prev() }
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
