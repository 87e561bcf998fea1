package ingest

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindEmpty             ErrorKind = "Empty"
	KindTooWide           ErrorKind = "TooWide"
	KindTooManyRows       ErrorKind = "TooManyRows"
	KindUnsupportedFormat ErrorKind = "UnsupportedFormat"
	KindDecodeFailure     ErrorKind = "DecodeFailure"
)

// Error aborts an upload. Nothing is persisted when one is returned.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKindOf reports the ingest error kind carried by err, if any.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var ingestErr *Error
	if errors.As(err, &ingestErr) {
		return ingestErr.Kind, true
	}
	return "", false
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}
