// Package queue holds scan items until the scan manager drains them.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ScriptScan/internal"
	"ScriptScan/internal/actor"
	"ScriptScan/internal/host"
	"ScriptScan/internal/item"
)

var (
	ErrEmpty      = errors.New("the item queue is empty")
	ErrNotRunning = fmt.Errorf("the global scan queue service is not running: %w", actor.ErrNotRunning)
)

type Options struct {
	Host host.Handle
	// MaxItemSize caps file items created by the queue, 0 for no limit.
	MaxItemSize int64
}

// Queue is the actor state: a FIFO of items not yet materialized.
type Queue struct {
	host        actor.WeakRef[host.Host]
	maxItemSize int64
	items       []item.Item
	log         *logrus.Entry
}

// Handle is a strong reference to a running queue.
type Handle struct {
	*actor.Ref[Queue]
}

// Weak is a non-owning reference to a queue.
type Weak struct {
	actor.WeakRef[Queue]
}

func (w Weak) Upgrade() (Handle, bool) {
	ref, ok := w.WeakRef.Upgrade()
	return Handle{ref}, ok
}

func (h Handle) Downgrade() Weak { return Weak{h.Ref.Downgrade()} }

// Spawn starts a queue. It registers the queue API with the host on start
// and fails to start when the host is not running.
func Spawn(opts Options, actorOpts ...actor.Option) Handle {
	q := &Queue{maxItemSize: opts.MaxItemSize, log: logrus.WithField("actor", "queue")}
	if opts.Host.Ref != nil {
		q.host = opts.Host.Downgrade()
	}
	return Handle{actor.Spawn("queue", q, actorOpts...)}
}

func (q *Queue) OnStart(ctx context.Context, self *actor.Ref[Queue]) error {
	h, ok := q.host.Upgrade()
	if !ok {
		return host.ErrNotRunning
	}
	if err := (host.Handle{Ref: h}).Register(&API{queue: Handle{self}.Downgrade()}); err != nil {
		return fmt.Errorf("register queue API: %w", err)
	}
	return nil
}

func (q *Queue) push(it item.Item) {
	q.items = append(q.items, it)
	q.log.WithField("item", it.Name()).Trace("enqueued")
}

func (q *Queue) pop() (item.Content, error) {
	if len(q.items) == 0 {
		return item.Content{}, ErrEmpty
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return it.Materialize()
}

// Enqueue appends it to the queue without waiting.
func (h Handle) Enqueue(it item.Item) error {
	return h.Tell(func(_ context.Context, q *Queue) { q.push(it) })
}

// EnqueueRaw queues an in-memory payload.
func (h Handle) EnqueueRaw(name string, data []byte) error {
	return h.Enqueue(item.NewInline(name, data))
}

// EnqueueFile queues a file. The file is not read until dequeued.
func (h Handle) EnqueueFile(path string) error {
	return h.Tell(func(_ context.Context, q *Queue) { q.push(item.NewFile(path, q.maxItemSize)) })
}

// EnqueueTree walks root and queues every file opts accepts. Archive
// entries become individual items. It returns the number of items queued.
func (h Handle) EnqueueTree(ctx context.Context, root string, opts *internal.WalkOptions) (int, error) {
	n := 0
	err := internal.Walk(ctx, root, opts, func(e internal.Entry) error {
		var err error
		if e.Inner != "" {
			err = h.Tell(func(_ context.Context, q *Queue) {
				q.push(item.NewArchiveEntry(e.Path, e.Inner, q.maxItemSize))
			})
		} else {
			err = h.EnqueueFile(e.Path)
		}
		if err == nil {
			n++
		}
		return err
	})
	return n, err
}

// Dequeue pops the oldest item and materializes it. It fails with ErrEmpty
// on an empty queue. An item that fails to load is still removed.
func (h Handle) Dequeue(ctx context.Context) (item.Content, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, q *Queue) (item.Content, error) {
		return q.pop()
	})
}

func (h Handle) Length(ctx context.Context) (int, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, q *Queue) (int, error) {
		return len(q.items), nil
	})
}
