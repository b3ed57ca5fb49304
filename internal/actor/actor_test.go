package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n     int
	seen  []int
	start error
	stops chan error
}

func (c *counter) OnStart(ctx context.Context, self *Ref[counter]) error { return c.start }

func (c *counter) OnStop(ctx context.Context, reason error) {
	if c.stops != nil {
		c.stops <- reason
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTellAskOrdering(t *testing.T) {
	ctx := testCtx(t)
	ref := Spawn("counter", &counter{})
	require.NoError(t, ref.Ping(ctx))

	for i := 1; i <= 100; i++ {
		require.NoError(t, ref.Tell(func(_ context.Context, c *counter) {
			c.n++
			c.seen = append(c.seen, i)
		}))
	}
	seen, err := Ask(ctx, ref, func(_ context.Context, c *counter) ([]int, error) {
		return append([]int(nil), c.seen...), nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 100)
	for i, v := range seen {
		assert.Equal(t, i+1, v)
	}
}

func TestAskReturnsHandlerError(t *testing.T) {
	ctx := testCtx(t)
	ref := Spawn("counter", &counter{})
	boom := errors.New("boom")
	_, err := Ask(ctx, ref, func(context.Context, *counter) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, ref.Alive(), "a returned error must not stop the actor")
}

func TestStartupFailure(t *testing.T) {
	ctx := testCtx(t)
	boom := errors.New("no host")
	ref := Spawn("counter", &counter{start: boom})

	err := ref.Ping(ctx)
	require.Error(t, err)
	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, ref.WaitForStop(ctx))
	assert.False(t, ref.Alive())
	assert.ErrorIs(t, ref.Tell(func(context.Context, *counter) {}), ErrNotRunning)
}

func TestGracefulStopDrainsQueuedMessages(t *testing.T) {
	ctx := testCtx(t)
	state := &counter{stops: make(chan error, 1)}
	ref := Spawn("counter", state)
	block := make(chan struct{})
	require.NoError(t, ref.Tell(func(context.Context, *counter) { <-block }))
	for i := 0; i < 10; i++ {
		require.NoError(t, ref.Tell(func(_ context.Context, c *counter) { c.n++ }))
	}
	require.NoError(t, ref.StopGracefully())
	assert.ErrorIs(t, ref.Tell(func(context.Context, *counter) {}), ErrNotRunning)
	close(block)

	require.NoError(t, ref.WaitForStop(ctx))
	assert.Equal(t, 10, state.n)
	assert.NoError(t, <-state.stops)
	assert.NoError(t, ref.Err())
}

func TestAskAfterStop(t *testing.T) {
	ctx := testCtx(t)
	ref := Spawn("counter", &counter{})
	require.NoError(t, ref.StopGracefully())
	require.NoError(t, ref.WaitForStop(ctx))

	_, err := Ask(ctx, ref, func(context.Context, *counter) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrNotRunning)
	var stopped *StoppedError
	require.ErrorAs(t, err, &stopped)
	assert.Equal(t, "counter", stopped.Actor)
}

func TestPanicTerminatesAbnormally(t *testing.T) {
	ctx := testCtx(t)
	state := &counter{stops: make(chan error, 1)}
	ref := Spawn("counter", state)

	_, err := Ask(ctx, ref, func(context.Context, *counter) (int, error) { panic("bad state") })
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, ref.WaitForStop(ctx))
	var pe *PanicError
	require.ErrorAs(t, ref.Err(), &pe)
	assert.Equal(t, "bad state", pe.Value)
	assert.ErrorAs(t, <-state.stops, &pe)
}

func TestLinkCascadesAbnormalStop(t *testing.T) {
	ctx := testCtx(t)
	a := Spawn("a", &counter{})
	b := Spawn("b", &counter{})
	Link(a, b)

	a.Kill()
	require.NoError(t, b.WaitForStop(ctx))

	var ld *LinkDiedError
	require.ErrorAs(t, b.Err(), &ld)
	assert.Equal(t, "a", ld.Peer)
	assert.ErrorIs(t, b.Err(), ErrKilled)
}

func TestLinkIgnoresGracefulStop(t *testing.T) {
	ctx := testCtx(t)
	a := Spawn("a", &counter{})
	b := Spawn("b", &counter{})
	Link(a, b)

	require.NoError(t, a.StopGracefully())
	require.NoError(t, a.WaitForStop(ctx))
	require.NoError(t, b.Ping(ctx))
	assert.True(t, b.Alive())
}

func TestLinkToDeadActor(t *testing.T) {
	ctx := testCtx(t)
	a := Spawn("a", &counter{})
	a.Kill()
	require.NoError(t, a.WaitForStop(ctx))

	b := Spawn("b", &counter{})
	Link(a, b)
	require.NoError(t, b.WaitForStop(ctx))
	assert.Error(t, b.Err())
}

func TestWeakRef(t *testing.T) {
	ctx := testCtx(t)
	var zero WeakRef[counter]
	_, ok := zero.Upgrade()
	assert.False(t, ok)

	ref := Spawn("counter", &counter{})
	weak := ref.Downgrade()
	got, ok := weak.Upgrade()
	require.True(t, ok)
	assert.Same(t, ref, got)

	require.NoError(t, ref.StopGracefully())
	require.NoError(t, ref.WaitForStop(ctx))
	_, ok = weak.Upgrade()
	assert.False(t, ok)
}

func TestMailboxLimit(t *testing.T) {
	ctx := testCtx(t)
	ref := Spawn("counter", &counter{}, WithMailboxLimit(1))
	require.NoError(t, ref.Ping(ctx))

	block := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, ref.Tell(func(context.Context, *counter) {
		close(running)
		<-block
	}))
	<-running
	require.NoError(t, ref.Tell(func(context.Context, *counter) {}))
	assert.ErrorIs(t, ref.Tell(func(context.Context, *counter) {}), ErrMailboxFull)
	close(block)
}

type echo struct{}

func TestAwaitServicesOwnMailbox(t *testing.T) {
	ctx := testCtx(t)
	a := Spawn("a", &counter{})
	b := Spawn("b", &echo{})

	// a waits on b, and b needs a to answer before it can reply.
	got, err := Ask(ctx, a, func(ctx context.Context, _ *counter) (int, error) {
		return Await(ctx, a, func(ctx context.Context) (int, error) {
			return Ask(ctx, b, func(ctx context.Context, _ *echo) (int, error) {
				return Ask(ctx, a, func(_ context.Context, c *counter) (int, error) {
					c.n = 42
					return c.n, nil
				})
			})
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestAwaitDefersStop(t *testing.T) {
	ctx := testCtx(t)
	state := &counter{}
	a := Spawn("a", state)
	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Ask(ctx, a, func(ctx context.Context, c *counter) (int, error) {
			return Await(ctx, a, func(context.Context) (int, error) {
				close(entered)
				<-release
				return 0, nil
			})
		})
		done <- err
	}()

	<-entered
	require.NoError(t, a.Tell(func(_ context.Context, c *counter) { c.n++ }))
	require.NoError(t, a.StopGracefully())
	require.Eventually(t, func() bool { return a.Pending() == 0 }, time.Second, time.Millisecond)
	assert.True(t, a.Alive(), "stop must wait for the suspended handler")

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, a.WaitForStop(ctx))
	assert.Equal(t, 1, state.n)
}

func TestAwaitFailureTerminatesEvenIfRecovered(t *testing.T) {
	ctx := testCtx(t)
	state := &counter{stops: make(chan error, 1)}
	a := Spawn("a", state)

	_, err := Ask(ctx, a, func(ctx context.Context, c *counter) (int, error) {
		_, err := Await(ctx, a, func(ctx context.Context) (int, error) {
			if err := a.Tell(func(context.Context, *counter) { panic("nested") }); err != nil {
				return 0, err
			}
			<-ctx.Done()
			return 0, ctx.Err()
		})
		var pe *PanicError
		if !errors.As(err, &pe) {
			return 0, errors.New("expected the nested panic from Await")
		}
		// the handler swallows the failure, as a script error handler would
		c.n = 1
		return c.n, nil
	})
	require.NoError(t, err)

	require.NoError(t, a.WaitForStop(ctx))
	var pe *PanicError
	require.ErrorAs(t, a.Err(), &pe)
	assert.Equal(t, "nested", pe.Value)
	assert.ErrorAs(t, <-state.stops, &pe)
}

func TestAwaitOffLoopRunsDirectly(t *testing.T) {
	a := Spawn("a", &counter{})
	v, err := Await(context.Background(), a, func(context.Context) (string, error) { return "direct", nil })
	require.NoError(t, err)
	assert.Equal(t, "direct", v)
}
