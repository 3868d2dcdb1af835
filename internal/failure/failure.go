// Package failure defines the typed error kinds returned by the sync engine.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without parsing messages.
type Kind string

const (
	KindNetwork          Kind = "NETWORK_FAILURE"
	KindHTTPStatus       Kind = "HTTP_STATUS_FAILURE"
	KindParse            Kind = "PARSE_FAILURE"
	KindIO               Kind = "IO_FAILURE"
	KindWrite            Kind = "WRITE_FAILURE"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindBind             Kind = "BIND_FAILURE"
)

// Sentinels for use with errors.Is.
var (
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrHTTPStatus       = &Error{Kind: KindHTTPStatus}
	ErrParse            = &Error{Kind: KindParse}
	ErrIO               = &Error{Kind: KindIO}
	ErrWrite            = &Error{Kind: KindWrite}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrBind             = &Error{Kind: KindBind}
)

// Error is a classified failure wrapping its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Op
	case e.Op == "":
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, failure.ErrParse) matches any parse failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
