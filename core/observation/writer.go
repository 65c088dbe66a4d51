package observation

import (
	"bufio"
	"errors"
	"io"

	"github.com/goccy/go-json"
)

// ErrClosed is returned when writing to a closed ArrayWriter.
var ErrClosed = errors.New("array writer closed")

// ArrayWriter streams values as the elements of one JSON array. Each element
// is encoded and written when Write is called; nothing is retained.
type ArrayWriter[T any] struct {
	w      *bufio.Writer
	first  bool
	open   bool
	closed bool
	count  int
}

// NewArrayWriter returns a writer over w. The opening bracket is written
// with the first element, or by Close for an empty array.
func NewArrayWriter[T any](w io.Writer) *ArrayWriter[T] {
	return &ArrayWriter[T]{w: bufio.NewWriter(w), first: true}
}

// Write appends v to the array.
func (a *ArrayWriter[T]) Write(v T) error {
	if a.closed {
		return ErrClosed
	}
	if err := a.start(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if !a.first {
		if err := a.w.WriteByte(','); err != nil {
			return err
		}
	}
	if _, err := a.w.Write(data); err != nil {
		return err
	}
	a.first = false
	a.count++
	return nil
}

// Count returns the number of elements written.
func (a *ArrayWriter[T]) Count() int {
	return a.count
}

// Flush pushes buffered bytes to the underlying writer.
func (a *ArrayWriter[T]) Flush() error {
	return a.w.Flush()
}

// Close terminates the array and flushes. It does not close the underlying
// writer. Closing twice is a no-op.
func (a *ArrayWriter[T]) Close() error {
	if a.closed {
		return nil
	}
	if err := a.start(); err != nil {
		return err
	}
	a.closed = true
	if err := a.w.WriteByte(']'); err != nil {
		return err
	}
	return a.w.Flush()
}

func (a *ArrayWriter[T]) start() error {
	if a.open {
		return nil
	}
	if err := a.w.WriteByte('['); err != nil {
		return err
	}
	a.open = true
	return nil
}
