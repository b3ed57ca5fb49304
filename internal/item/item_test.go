package item

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineMaterializesOnce(t *testing.T) {
	it := NewInline("hello_world", []byte("Hello, world!"))
	assert.Equal(t, "hello_world", it.Name())
	assert.Empty(t, it.Path())

	c, err := it.Materialize()
	require.NoError(t, err)
	assert.Equal(t, "hello_world", c.Name)
	assert.Equal(t, []byte("Hello, world!"), c.Data)
	assert.Empty(t, c.Path)

	_, err = it.Materialize()
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "c.txt", FileName(filepath.Join("a", "b", "c.txt")))
	assert.Equal(t, UnknownName, FileName(""))
	assert.Equal(t, UnknownName, FileName(string(filepath.Separator)))
	assert.Equal(t, UnknownName, FileName(".."))
}

func TestFileMaterialize(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(p, []byte("token=abc"), 0644))

	it := NewFile(p, 0)
	c, err := it.Materialize()
	require.NoError(t, err)
	assert.Equal(t, "secret.txt", c.Name)
	assert.Equal(t, p, c.Path)
	assert.Equal(t, "token=abc", string(c.Data))

	_, err = it.Materialize()
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestFileMissing(t *testing.T) {
	p := filepath.Join(t.TempDir(), "gone.txt")
	_, err := NewFile(p, 0).Materialize()
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, p, le.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "an IO error occurred")
}

func TestFileTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(p, make([]byte, 64), 0644))

	_, err := NewFile(p, 32).Materialize()
	assert.ErrorIs(t, err, ErrTooLarge)

	c, err := NewFile(p, 64).Materialize()
	require.NoError(t, err)
	assert.Len(t, c.Data, 64)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestArchiveEntry(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bundle.zip")
	writeZip(t, p, map[string]string{"conf/app.env": "PASSWORD=hunter2"})

	it := NewArchiveEntry(p, "conf/app.env", 0)
	assert.Equal(t, "app.env", it.Name())
	assert.Equal(t, p+"::conf/app.env", it.Path())

	c, err := it.Materialize()
	require.NoError(t, err)
	assert.Equal(t, "PASSWORD=hunter2", string(c.Data))

	_, err = NewArchiveEntry(p, "missing.txt", 0).Materialize()
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}
