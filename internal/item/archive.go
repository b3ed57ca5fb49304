package item

import (
	"context"
	"io"
	iofs "io/fs"
	"path"

	"github.com/mholt/archives"
)

// ArchiveEntry is a file inside an archive, extracted when materialized.
type ArchiveEntry struct {
	archive  string
	inner    string
	maxSize  int64
	consumed bool
}

func NewArchiveEntry(archive, inner string, maxSize int64) *ArchiveEntry {
	return &ArchiveEntry{archive: archive, inner: inner, maxSize: maxSize}
}

func (a *ArchiveEntry) Name() string {
	base := path.Base(a.inner)
	if base == "." || base == "/" || base == "" {
		return UnknownName
	}
	return base
}

func (a *ArchiveEntry) Path() string { return a.archive + "::" + a.inner }

func (a *ArchiveEntry) Materialize() (Content, error) {
	if a.consumed {
		return Content{}, ErrConsumed
	}
	a.consumed = true

	fsys, err := archives.FileSystem(context.Background(), a.archive, nil)
	if err != nil {
		return Content{}, &LoadError{Path: a.Path(), Err: err}
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}
	fh, err := fsys.Open(a.inner)
	if err != nil {
		return Content{}, &LoadError{Path: a.Path(), Err: err}
	}
	defer fh.Close()
	if st, err := fh.Stat(); err == nil && st.IsDir() {
		return Content{}, &LoadError{Path: a.Path(), Err: &iofs.PathError{Op: "read", Path: a.inner, Err: iofs.ErrInvalid}}
	}

	data, err := readLimited(fh, a.maxSize)
	if err != nil {
		return Content{}, &LoadError{Path: a.Path(), Err: err}
	}
	return Content{Name: a.Name(), Path: a.Path(), Data: data}, nil
}
