package engines

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"ScriptScan/internal/actor"
	"ScriptScan/internal/host"
)

var (
	// ErrNoHost is returned by ScanBytes when the host backing Lua engines is gone.
	ErrNoHost     = host.ErrNotRunning
	ErrNotRunning = fmt.Errorf("the userscript scan engine service is not running: %w", actor.ErrNotRunning)
)

type Options struct {
	Host host.Handle
	// Workers bounds concurrent engine invocations.
	Workers int
	// Timeout bounds a single engine invocation, 0 for none.
	Timeout time.Duration
}

// Registry is the actor state: engines by name.
type Registry struct {
	host    actor.WeakRef[host.Host]
	engines map[string]Engine
	workers int
	timeout time.Duration
	pool    *ants.PoolWithFunc
	log     *logrus.Entry
}

type Handle struct {
	*actor.Ref[Registry]
}

type Weak struct {
	actor.WeakRef[Registry]
}

func (w Weak) Upgrade() (Handle, bool) {
	ref, ok := w.WeakRef.Upgrade()
	return Handle{ref}, ok
}

func (h Handle) Downgrade() Weak { return Weak{h.Ref.Downgrade()} }

func Spawn(opts Options, actorOpts ...actor.Option) Handle {
	r := &Registry{
		engines: make(map[string]Engine),
		workers: opts.Workers,
		timeout: opts.Timeout,
		log:     logrus.WithField("actor", "registry"),
	}
	if opts.Host.Ref != nil {
		r.host = opts.Host.Downgrade()
	}
	if r.workers <= 0 {
		r.workers = 8
	}
	return Handle{actor.Spawn("registry", r, actorOpts...)}
}

func (r *Registry) OnStart(ctx context.Context, self *actor.Ref[Registry]) error {
	pool, err := ants.NewPoolWithFunc(r.workers, invoke)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	r.pool = pool

	h, ok := r.host.Upgrade()
	if !ok {
		r.log.Warn("userscript environment not running, user_engines API not registered")
		return nil
	}
	api := &API{registry: Handle{self}.Downgrade(), host: r.host}
	if err := (host.Handle{Ref: h}).Register(api); err != nil {
		r.log.WithError(err).Warn("register user_engines API")
	}
	return nil
}

func (r *Registry) OnStop(ctx context.Context, reason error) {
	if r.pool != nil {
		r.pool.Release()
	}
}

type job struct {
	ctx     context.Context
	name    string
	engine  Engine
	data    []byte
	timeout time.Duration
	out     chan<- outcome
}

type outcome struct {
	name    string
	matched bool
	err     error
}

// invoke runs one engine and always reports exactly one outcome. An engine
// that overruns its timeout is abandoned.
func invoke(i interface{}) {
	j := i.(*job)
	ctx, cancel := j.ctx, context.CancelFunc(func() {})
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
	}
	defer cancel()

	res := make(chan outcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				res <- outcome{name: j.name, err: fmt.Errorf("engine panicked: %v", v)}
			}
		}()
		m, err := j.engine.Match(ctx, j.data)
		res <- outcome{name: j.name, matched: m, err: err}
	}()

	select {
	case o := <-res:
		j.out <- o
	case <-ctx.Done():
		j.out <- outcome{name: j.name, err: ctx.Err()}
	}
}

func (r *Registry) register(name string, e Engine) {
	if _, ok := r.engines[name]; ok {
		r.log.WithField("engine", name).Debug("replacing engine")
	}
	r.engines[name] = e
}

// scan runs every engine against data. The first engine error fails the scan.
func (r *Registry) scan(ctx context.Context, data []byte) ([]string, error) {
	if _, ok := r.host.Upgrade(); !ok {
		return nil, ErrNoHost
	}
	matches := []string{}
	if len(r.engines) == 0 {
		return matches, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := make(chan outcome, len(r.engines))
	for name, e := range r.engines {
		j := &job{ctx: ctx, name: name, engine: e, data: data, timeout: r.timeout, out: out}
		if err := r.pool.Invoke(j); err != nil {
			return nil, &EngineInvocationError{Engine: name, Err: err}
		}
	}
	for range len(r.engines) {
		o := <-out
		if o.err != nil {
			return nil, &EngineInvocationError{Engine: o.name, Err: o.err}
		}
		if o.matched {
			matches = append(matches, o.name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Register adds or replaces an engine. It does not wait.
func (h Handle) Register(name string, e Engine) error {
	return h.Tell(func(_ context.Context, r *Registry) { r.register(name, e) })
}

func (h Handle) Unregister(name string) error {
	return h.Tell(func(_ context.Context, r *Registry) { delete(r.engines, name) })
}

// ScanBytes returns the names of all engines matching data, sorted.
func (h Handle) ScanBytes(ctx context.Context, data []byte) ([]string, error) {
	return actor.Ask(ctx, h.Ref, func(loop context.Context, r *Registry) ([]string, error) {
		scanCtx, cancel := actor.WithCaller(loop, ctx)
		defer cancel()
		return r.scan(scanCtx, data)
	})
}

// List returns the registered engine names, sorted.
func (h Handle) List(ctx context.Context) ([]string, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, r *Registry) ([]string, error) {
		names := make([]string, 0, len(r.engines))
		for n := range r.engines {
			names = append(names, n)
		}
		sort.Strings(names)
		return names, nil
	})
}
