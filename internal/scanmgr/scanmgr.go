// Package scanmgr drains the item queue through the engine registry and
// collects one result per matching engine.
package scanmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ScriptScan/internal"
	"ScriptScan/internal/actor"
	"ScriptScan/internal/engines"
	"ScriptScan/internal/host"
	"ScriptScan/internal/item"
	"ScriptScan/internal/queue"
)

var (
	ErrNotRunning = fmt.Errorf("the scan manager service is not running: %w", actor.ErrNotRunning)
	ErrNoHost     = host.ErrNotRunning
	ErrNoQueue    = queue.ErrNotRunning
	ErrNoRegistry = engines.ErrNotRunning
)

type Options struct {
	Host     host.Handle
	Queue    queue.Handle
	Registry engines.Handle
	// Stats, when set, is updated as items are scanned.
	Stats *internal.AppStats
	// Meter defaults to the global meter provider.
	Meter metric.Meter
}

type counters struct {
	scanned metric.Int64Counter
	failed  metric.Int64Counter
	matches metric.Int64Counter
}

// Manager is the actor state. It only holds weak handles to the components
// it drives.
type Manager struct {
	host     actor.WeakRef[host.Host]
	queue    queue.Weak
	registry engines.Weak
	stats    *internal.AppStats
	meter    metric.Meter
	metrics  counters
	log      *logrus.Entry
}

type Handle struct {
	*actor.Ref[Manager]
}

type Weak struct {
	actor.WeakRef[Manager]
}

func (w Weak) Upgrade() (Handle, bool) {
	ref, ok := w.WeakRef.Upgrade()
	return Handle{ref}, ok
}

func (h Handle) Downgrade() Weak { return Weak{h.Ref.Downgrade()} }

func Spawn(opts Options, actorOpts ...actor.Option) Handle {
	m := &Manager{
		stats: opts.Stats,
		meter: opts.Meter,
		log:   logrus.WithField("actor", "scanmgr"),
	}
	if opts.Host.Ref != nil {
		m.host = opts.Host.Downgrade()
	}
	if opts.Queue.Ref != nil {
		m.queue = opts.Queue.Downgrade()
	}
	if opts.Registry.Ref != nil {
		m.registry = opts.Registry.Downgrade()
	}
	if m.meter == nil {
		m.meter = otel.Meter(internal.ProgramName + "/scanmgr")
	}
	return Handle{actor.Spawn("scanmgr", m, actorOpts...)}
}

func (m *Manager) OnStart(ctx context.Context, self *actor.Ref[Manager]) error {
	var err error
	if m.metrics.scanned, err = m.meter.Int64Counter("scriptscan_items_scanned_total"); err != nil {
		return err
	}
	if m.metrics.failed, err = m.meter.Int64Counter("scriptscan_items_failed_total"); err != nil {
		return err
	}
	if m.metrics.matches, err = m.meter.Int64Counter("scriptscan_matches_total"); err != nil {
		return err
	}

	h, ok := m.host.Upgrade()
	if !ok {
		m.log.Warn("userscript environment not running, scanmgr API not registered")
		return nil
	}
	if err := (host.Handle{Ref: h}).Register(&API{manager: Handle{self}.Downgrade()}); err != nil {
		m.log.WithError(err).Warn("register scanmgr API")
	}
	return nil
}

func (m *Manager) warn(h host.Handle, text string) {
	if err := h.Warn(text); err != nil {
		m.log.Warn(text)
	}
}

func (m *Manager) failed(ctx context.Context) {
	m.metrics.failed.Add(ctx, 1)
	if m.stats != nil {
		m.stats.Errors.Add(1)
	}
}

// invokeScan drains the queue. Per-item failures become warnings; losing a
// component or the caller's context ends the scan with an error.
func (m *Manager) invokeScan(ctx context.Context) ([]Result, error) {
	hRef, ok := m.host.Upgrade()
	if !ok {
		return nil, ErrNoHost
	}
	q, ok := m.queue.Upgrade()
	if !ok {
		return nil, ErrNoQueue
	}
	reg, ok := m.registry.Upgrade()
	if !ok {
		return nil, ErrNoRegistry
	}
	h := host.Handle{Ref: hRef}

	results := []Result{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := q.Length(ctx)
		if err != nil {
			return nil, m.lost(ctx, err, ErrNoQueue)
		}
		if n == 0 {
			break
		}

		c, err := q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				// another consumer won the race
				continue
			}
			if ctx.Err() != nil || !q.Alive() {
				return nil, m.lost(ctx, err, ErrNoQueue)
			}
			m.failed(ctx)
			m.warn(h, fmt.Sprintf("failed to load data item: %v", err))
			continue
		}

		names, err := reg.ScanBytes(ctx, c.Data)
		if err != nil {
			if ctx.Err() != nil || !reg.Alive() {
				return nil, m.lost(ctx, err, ErrNoRegistry)
			}
			m.failed(ctx)
			m.warn(h, fmt.Sprintf("failed to scan data item `%s`.\n  HINT: is the path accessible?\n        %s", c.Name, describePath(c.Path)))
			m.log.WithError(err).WithField("item", c.Name).Debug("scan failed")
			continue
		}

		m.metrics.scanned.Add(ctx, 1)
		if m.stats != nil {
			m.stats.ItemsScanned.Add(1)
			m.stats.BytesScanned.Add(int64(len(c.Data)))
			m.stats.Matches.Add(int64(len(names)))
		}
		results = append(results, resultsFor(c, names)...)
		for _, name := range names {
			m.metrics.matches.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", name)))
		}
	}
	m.log.WithField("results", len(results)).Debug("scan finished")
	return results, nil
}

func (m *Manager) lost(ctx context.Context, err, unavailable error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, actor.ErrNotRunning) {
		m.log.WithError(err).Debug("dependency stopped during scan")
		return unavailable
	}
	return err
}

func describePath(p string) string {
	if p == "" {
		return "<no path>"
	}
	return fmt.Sprintf("%q", p)
}

func resultsFor(c item.Content, matched []string) []Result {
	if len(matched) == 0 {
		return nil
	}
	it := Item{Name: c.Name, Path: c.Path, Digest: fmt.Sprintf("%016x", xxhash.Sum64(c.Data))}
	out := make([]Result, 0, len(matched))
	for _, e := range matched {
		out = append(out, Result{Engine: e, Item: it})
	}
	return out
}

// InvokeScan scans every queued item, including items queued while the scan
// runs, and returns one result per (item, matching engine).
func (h Handle) InvokeScan(ctx context.Context) ([]Result, error) {
	res, err := actor.Ask(ctx, h.Ref, func(loop context.Context, m *Manager) ([]Result, error) {
		scanCtx, cancel := actor.WithCaller(loop, ctx)
		defer cancel()
		return m.invokeScan(scanCtx)
	})
	var stopped *actor.StoppedError
	if errors.As(err, &stopped) && stopped.Actor == h.Name() {
		return nil, ErrNotRunning
	}
	return res, err
}
