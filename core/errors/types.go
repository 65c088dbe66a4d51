// Package errors implements the error taxonomy shared by the vectorize and
// cluster stages. Every error carries a Kind that decides how far it may
// propagate: vocabulary gaps never leave a revision, parse and IO errors stop
// a single file, configuration errors stop the run.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by its propagation behavior.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota

	// KindParse indicates malformed archive or page structure.
	KindParse

	// KindIO indicates a stream that cannot be read or written.
	KindIO

	// KindConfiguration indicates an invalid setup: cyclic feature graph,
	// empty candidate set, zero-row matrix and similar.
	KindConfiguration

	// KindVocabularyGap indicates a token absent from the embedding.
	// It is recorded, never returned from a pipeline.
	KindVocabularyGap

	// KindClustering indicates a clustering or scoring failure for one
	// candidate k.
	KindClustering
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindParse:         "parse",
	KindIO:            "io",
	KindConfiguration: "configuration",
	KindVocabularyGap: "vocabulary_gap",
	KindClustering:    "clustering",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error wraps an underlying error with a Kind, the operation that failed and
// the subject it failed on (a file path, a candidate k, a node id).
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets callers
// test against the Err* sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Op == "" && t.Subject == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an Error of the given kind with no underlying cause.
func New(kind Kind, op, subject string) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject}
}

// Wrap classifies err. A nil err stays nil. An err that is already an *Error
// keeps its kind so that the innermost classification wins.
func Wrap(kind Kind, op, subject string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind
	}

	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, op, subject, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Kind sentinels for errors.Is.
var (
	ErrParse         = &Error{Kind: KindParse}
	ErrIO            = &Error{Kind: KindIO}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrVocabularyGap = &Error{Kind: KindVocabularyGap}
	ErrClustering    = &Error{Kind: KindClustering}
)

// IsParse reports whether err is a parse error.
func IsParse(err error) bool { return KindOf(err) == KindParse }

// IsIO reports whether err is an IO error.
func IsIO(err error) bool { return KindOf(err) == KindIO }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsClustering reports whether err is a per-candidate clustering failure.
func IsClustering(err error) bool { return KindOf(err) == KindClustering }

// Is and As re-export the standard library helpers so callers importing this
// package under the name errors keep access to them.
var (
	Is = errors.Is
	As = errors.As
)

// Join re-exports errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
