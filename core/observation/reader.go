package observation

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Reader streams the elements of a JSON array one at a time.
//
//	rd := observation.NewReader[Observation](f)
//	for rd.Next() {
//		obs := rd.Value()
//	}
//	if err := rd.Err(); err != nil { ... }
type Reader[T any] struct {
	dec     *json.Decoder
	started bool
	done    bool
	value   T
	err     error
}

// NewReader returns a reader over a JSON array.
func NewReader[T any](r io.Reader) *Reader[T] {
	return &Reader[T]{dec: json.NewDecoder(r)}
}

// Next decodes the next element. It returns false at the end of the array
// or on error.
func (r *Reader[T]) Next() bool {
	if r.done {
		return false
	}

	if !r.started {
		r.started = true
		tok, err := r.dec.Token()
		if err != nil {
			return r.fail(fmt.Errorf("read array start: %w", err))
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return r.fail(fmt.Errorf("expected array, got %v", tok))
		}
	}

	if !r.dec.More() {
		if _, err := r.dec.Token(); err != nil {
			return r.fail(fmt.Errorf("read array end: %w", err))
		}
		r.done = true
		return false
	}

	var v T
	if err := r.dec.Decode(&v); err != nil {
		return r.fail(fmt.Errorf("decode element: %w", err))
	}
	r.value = v
	return true
}

// Value returns the element decoded by the last successful Next.
func (r *Reader[T]) Value() T {
	return r.value
}

// Err returns the first error encountered.
func (r *Reader[T]) Err() error {
	return r.err
}

func (r *Reader[T]) fail(err error) bool {
	r.err = err
	r.done = true
	return false
}

// ReadAll decodes a whole array.
func ReadAll[T any](r io.Reader) ([]T, error) {
	rd := NewReader[T](r)
	var out []T
	for rd.Next() {
		out = append(out, rd.Value())
	}
	return out, rd.Err()
}
