// Package item defines the units of work accepted by the scan queue.
package item

import (
	"errors"
	"fmt"
	"path/filepath"
)

// UnknownName is used when a file path has no usable final component.
const UnknownName = "<unknown filename>"

var (
	ErrConsumed = errors.New("scan item was already materialized")
	ErrTooLarge = errors.New("scan item exceeds the maximum item size")
)

// Item is a unit of work waiting in the queue. Materialize consumes the item:
// it may be called once, later calls fail with ErrConsumed.
type Item interface {
	Name() string
	// Path is the origin path, empty for in-memory items.
	Path() string
	Materialize() (Content, error)
}

// Content is a materialized item.
type Content struct {
	Name string
	Path string
	Data []byte
}

// LoadError reports an I/O failure while materializing an item.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("an IO error occurred: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Inline carries its content in memory.
type Inline struct {
	name     string
	data     []byte
	consumed bool
}

func NewInline(name string, data []byte) *Inline {
	return &Inline{name: name, data: data}
}

func (i *Inline) Name() string { return i.name }
func (i *Inline) Path() string { return "" }

func (i *Inline) Materialize() (Content, error) {
	if i.consumed {
		return Content{}, ErrConsumed
	}
	i.consumed = true
	data := i.data
	i.data = nil
	return Content{Name: i.name, Data: data}, nil
}

// FileName returns the last path component or UnknownName.
func FileName(path string) string {
	base := filepath.Base(path)
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return UnknownName
	}
	return base
}
