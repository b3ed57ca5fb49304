package queue

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScriptScan/internal"
	"ScriptScan/internal/actor"
	"ScriptScan/internal/host"
	"ScriptScan/internal/item"
)

func setup(t *testing.T) (host.Handle, Handle, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	h := host.Spawn(host.Options{Warn: func(string) {}})
	require.NoError(t, h.Ping(ctx))
	q := Spawn(Options{Host: h})
	require.NoError(t, q.Ping(ctx))
	t.Cleanup(func() {
		_ = q.StopGracefully()
		_ = q.WaitForStop(context.Background())
		_ = h.StopGracefully()
		_ = h.WaitForStop(context.Background())
	})
	return h, q, ctx
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	_, q, ctx := setup(t)
	require.NoError(t, q.EnqueueRaw("hello_world", []byte("Hello, world!")))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello_world", c.Name)
	assert.Empty(t, c.Path)
	assert.Equal(t, []byte("Hello, world!"), c.Data)

	n, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDequeueEmpty(t *testing.T) {
	_, q, ctx := setup(t)
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.EqualError(t, err, "the item queue is empty")
}

func TestFIFO(t *testing.T) {
	_, q, ctx := setup(t)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, q.EnqueueRaw(name, []byte(name)))
	}
	for _, want := range []string{"a", "b", "c"} {
		c, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, c.Name)
	}
}

func TestDequeueIOErrorConsumesItem(t *testing.T) {
	_, q, ctx := setup(t)
	dir := t.TempDir()
	missing := filepath.Join(dir, "deleted.txt")
	require.NoError(t, q.EnqueueFile(missing))
	require.NoError(t, q.EnqueueRaw("next", []byte("x")))

	_, err := q.Dequeue(ctx)
	var le *item.LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, missing, le.Path)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFileItemUsesMaxSize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := host.Spawn(host.Options{})
	require.NoError(t, h.Ping(ctx))
	q := Spawn(Options{Host: h, MaxItemSize: 4})
	require.NoError(t, q.Ping(ctx))

	p := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0644))
	require.NoError(t, q.EnqueueFile(p))
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, item.ErrTooLarge)
}

func TestStartFailsWithoutHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := Spawn(Options{})
	err := q.Ping(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, host.ErrNotRunning)
	assert.ErrorIs(t, err, actor.ErrNotRunning)

	h := host.Spawn(host.Options{})
	require.NoError(t, h.StopGracefully())
	require.NoError(t, h.WaitForStop(ctx))
	q = Spawn(Options{Host: h})
	assert.ErrorIs(t, q.Ping(ctx), host.ErrNotRunning)
}

func TestEnqueueTree(t *testing.T) {
	_, q, ctx := setup(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs", "b.log"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.bin"), []byte("c"), 0644))

	zp := filepath.Join(dir, "bundle.zip")
	f, err := os.Create(zp)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("inner/d.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("d"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	opts := &internal.WalkOptions{Archives: true, Blacklist: []string{"bin"}}
	opts.Prepare()
	n, err := q.EnqueueTree(ctx, dir, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names := map[string]string{}
	for i := 0; i < n; i++ {
		c, err := q.Dequeue(ctx)
		require.NoError(t, err)
		names[c.Name] = string(c.Data)
	}
	assert.Equal(t, map[string]string{"a.txt": "a", "b.log": "b", "d.txt": "d"}, names)
}

func TestLuaAPI(t *testing.T) {
	h, q, ctx := setup(t)
	p := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("on disk"), 0644))

	require.NoError(t, h.Exec(ctx, "enqueue", `
		queue:add_raw("inline", "in memory")
		queue.add_file([[`+p+`]])
	`))
	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err := h.Eval(ctx, "queue:len()")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	require.NoError(t, h.Exec(ctx, "dequeue", `
		n1, p1, c1 = queue:dequeue()
		n2, p2, c2 = queue:dequeue()
	`))
	v, err = h.Eval(ctx, "{n1, tostring(p1), c1, n2, p2, c2}")
	require.NoError(t, err)
	assert.Equal(t, []any{"inline", "nil", "in memory", "file.txt", p, "on disk"}, v)

	assert.Error(t, h.Exec(ctx, "empty", "queue:dequeue()"))
}
