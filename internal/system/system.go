// Package system starts the scanning components, ties their lifetimes
// together and hands them out to callers.
package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ScriptScan/internal"
	"ScriptScan/internal/actor"
	"ScriptScan/internal/engines"
	"ScriptScan/internal/host"
	"ScriptScan/internal/queue"
	"ScriptScan/internal/rules"
	"ScriptScan/internal/scanmgr"
)

var ErrNotRunning = fmt.Errorf("the system supervisor is not running: %w", actor.ErrNotRunning)

type Options struct {
	Host host.Options
	// Threads bounds concurrent engine invocations and rule loading.
	Threads       int
	EngineTimeout time.Duration
	MaxItemSize   int64
	// MailboxLimit bounds every component mailbox, 0 for unbounded.
	MailboxLimit int
	// Rules are loaded into the registry at start.
	Rules      []string
	WatchRules bool
	Stats      *internal.AppStats
}

// FromOptions maps validated CLI/config options to supervisor options.
func FromOptions(o *internal.Options, hostOpts host.Options, stats *internal.AppStats) Options {
	hostOpts.Unsafe = o.Unsafe
	return Options{
		Host:          hostOpts,
		Threads:       o.Threads,
		EngineTimeout: o.EngineTimeout,
		MaxItemSize:   o.MaxItemBytes(),
		MailboxLimit:  o.MailboxLimit,
		Rules:         o.Rules,
		WatchRules:    o.WatchRules,
		Stats:         stats,
	}
}

// System is the supervisor state. It holds the only strong handles to the
// components.
type System struct {
	opts     Options
	host     host.Handle
	queue    queue.Handle
	registry engines.Handle
	scanmgr  scanmgr.Handle
	watcher  *rules.Watcher
	shutdown bool
	log      *logrus.Entry
}

type Handle struct {
	*actor.Ref[System]
}

func Spawn(opts Options) Handle {
	s := &System{opts: opts, log: logrus.WithField("actor", "system")}
	return Handle{actor.Spawn("system", s)}
}

// Start spawns the supervisor and waits until every component is running.
func Start(ctx context.Context, opts Options) (Handle, error) {
	h := Spawn(opts)
	if err := h.Ping(ctx); err != nil {
		return Handle{}, err
	}
	return h, nil
}

func (s *System) OnStart(ctx context.Context, self *actor.Ref[System]) error {
	var actorOpts []actor.Option
	if s.opts.MailboxLimit > 0 {
		actorOpts = append(actorOpts, actor.WithMailboxLimit(s.opts.MailboxLimit))
	}

	s.host = host.Spawn(s.opts.Host, actorOpts...)
	if err := startChild(ctx, s, self, s.host.Ref); err != nil {
		return err
	}
	s.queue = queue.Spawn(queue.Options{Host: s.host, MaxItemSize: s.opts.MaxItemSize}, actorOpts...)
	if err := startChild(ctx, s, self, s.queue.Ref); err != nil {
		return err
	}
	s.registry = engines.Spawn(engines.Options{
		Host:    s.host,
		Workers: s.opts.Threads,
		Timeout: s.opts.EngineTimeout,
	}, actorOpts...)
	if err := startChild(ctx, s, self, s.registry.Ref); err != nil {
		return err
	}
	s.scanmgr = scanmgr.Spawn(scanmgr.Options{
		Host:     s.host,
		Queue:    s.queue,
		Registry: s.registry,
		Stats:    s.opts.Stats,
	}, actorOpts...)
	if err := startChild(ctx, s, self, s.scanmgr.Ref); err != nil {
		return err
	}

	if err := s.loadRules(ctx); err != nil {
		s.stopChildren(ctx, false)
		return err
	}
	s.log.Debug("all components running")
	return nil
}

// startChild waits for a component to come up and links it to the
// supervisor. On failure every component started so far is stopped.
func startChild[S any](ctx context.Context, s *System, self *actor.Ref[System], child *actor.Ref[S]) error {
	if err := child.Ping(ctx); err != nil {
		s.stopChildren(ctx, false)
		return fmt.Errorf("start %s: %w", child.Name(), err)
	}
	actor.Link(self, child)
	return nil
}

func (s *System) loadRules(ctx context.Context) error {
	if len(s.opts.Rules) == 0 {
		return nil
	}
	sets, err := rules.LoadFiles(ctx, s.opts.Rules, s.opts.Threads)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if err := engines.RegisterRules(s.registry, sets); err != nil {
		return err
	}
	s.log.WithField("engines", len(sets)).Info("rule engines registered")

	if !s.opts.WatchRules {
		return nil
	}
	reg := s.registry.Downgrade()
	w, err := rules.Watch(ctx, s.opts.Rules, sets, func(path string, sets []rules.Named, removed []string) {
		r, ok := reg.Upgrade()
		if !ok {
			return
		}
		for _, name := range removed {
			if err := r.Unregister(name); err != nil {
				logrus.WithError(err).WithField("file", path).Warn("unregister rule engine")
				return
			}
		}
		if err := engines.RegisterRules(r, sets); err != nil {
			logrus.WithError(err).WithField("file", path).Warn("re-register rule engines")
		}
	})
	if err != nil {
		return fmt.Errorf("watch rules: %w", err)
	}
	s.watcher = w
	return nil
}

// stopChildren stops components in reverse start order. With wait it
// waits for each to finish before stopping the next.
func (s *System) stopChildren(ctx context.Context, wait bool) error {
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	var errs []error
	stop := func(name string, ref interface {
		StopGracefully() error
		WaitForStop(context.Context) error
	}) {
		if err := ref.StopGracefully(); err != nil {
			// already stopped
			return
		}
		if wait {
			if err := ref.WaitForStop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			}
		}
	}
	if s.scanmgr.Ref != nil {
		stop("scanmgr", s.scanmgr.Ref)
	}
	if s.registry.Ref != nil {
		stop("registry", s.registry.Ref)
	}
	if s.queue.Ref != nil {
		stop("queue", s.queue.Ref)
	}
	if s.host.Ref != nil {
		stop("host", s.host.Ref)
	}
	return errors.Join(errs...)
}

func (s *System) OnStop(ctx context.Context, reason error) {
	if s.shutdown {
		return
	}
	if reason != nil {
		s.log.WithError(reason).Error("system stopped abnormally")
	}
	_ = s.stopChildren(ctx, false)
}

// Host returns the scripting host.
func (h Handle) Host(ctx context.Context) (host.Handle, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, s *System) (host.Handle, error) {
		if !s.host.Alive() {
			return host.Handle{}, host.ErrNotRunning
		}
		return s.host, nil
	})
}

func (h Handle) Queue(ctx context.Context) (queue.Handle, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, s *System) (queue.Handle, error) {
		if !s.queue.Alive() {
			return queue.Handle{}, queue.ErrNotRunning
		}
		return s.queue, nil
	})
}

func (h Handle) Registry(ctx context.Context) (engines.Handle, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, s *System) (engines.Handle, error) {
		if !s.registry.Alive() {
			return engines.Handle{}, engines.ErrNotRunning
		}
		return s.registry, nil
	})
}

func (h Handle) ScanMgr(ctx context.Context) (scanmgr.Handle, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, s *System) (scanmgr.Handle, error) {
		if !s.scanmgr.Alive() {
			return scanmgr.Handle{}, scanmgr.ErrNotRunning
		}
		return s.scanmgr, nil
	})
}

// Shutdown stops the rule watcher, then the scan manager, registry, queue
// and host in that order, each fully before the next, then the supervisor.
func (h Handle) Shutdown(ctx context.Context) error {
	_, err := actor.Ask(ctx, h.Ref, func(loop context.Context, s *System) (struct{}, error) {
		waitCtx, cancel := actor.WithCaller(loop, ctx)
		defer cancel()
		s.shutdown = true
		return struct{}{}, s.stopChildren(waitCtx, true)
	})
	if err != nil {
		return err
	}
	if err := h.StopGracefully(); err != nil {
		return err
	}
	return h.WaitForStop(ctx)
}
