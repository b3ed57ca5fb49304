package item

import (
	"fmt"
	"io"
	"os"
)

// File refers to a file on disk, read only when materialized.
type File struct {
	path     string
	maxSize  int64
	consumed bool
}

// NewFile returns a lazy file item. maxSize <= 0 means no limit.
func NewFile(path string, maxSize int64) *File {
	return &File{path: path, maxSize: maxSize}
}

func (f *File) Name() string { return FileName(f.path) }
func (f *File) Path() string { return f.path }

func (f *File) Materialize() (Content, error) {
	if f.consumed {
		return Content{}, ErrConsumed
	}
	f.consumed = true

	fh, err := os.Open(f.path)
	if err != nil {
		return Content{}, &LoadError{Path: f.path, Err: err}
	}
	defer fh.Close()

	data, err := readLimited(fh, f.maxSize)
	if err != nil {
		return Content{}, &LoadError{Path: f.path, Err: err}
	}
	return Content{Name: f.Name(), Path: f.path, Data: data}, nil
}

func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxSize)
	}
	return data, nil
}
