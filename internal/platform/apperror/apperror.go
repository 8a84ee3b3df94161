// Package apperror defines the error kinds shared by every service and the
// mapping from those kinds to HTTP responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a failure so transports can report it consistently.
type Kind int

const (
	KindInternal Kind = iota
	KindNotAuthorized
	KindNotFound
	KindConflict
	KindValidation
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindNotAuthorized:
		return "not_authorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation_failure"
	case KindIntegrity:
		return "integrity_error"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code reported for the kind.
func (k Kind) Status() int {
	switch k {
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		if e.Msg == "" {
			return e.Op + ": " + e.Err.Error()
		}
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NotAuthorized(op, format string, args ...any) error {
	return New(KindNotAuthorized, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return New(KindNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return New(KindConflict, op, format, args...)
}

func Validation(op, format string, args ...any) error {
	return New(KindValidation, op, format, args...)
}

func Integrity(op string, err error, format string, args ...any) error {
	return &Error{Kind: KindIntegrity, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf reports the kind of the outermost classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTP converts err into an echo error. Internal and integrity failures do
// not leak their cause to the client.
func HTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	kind := KindOf(err)
	switch kind {
	case KindInternal:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	case KindIntegrity:
		return echo.NewHTTPError(http.StatusInternalServerError, "stored data is inconsistent").SetInternal(err)
	}
	var e *Error
	errors.As(err, &e)
	msg := e.Msg
	if msg == "" {
		msg = kind.String()
	}
	return echo.NewHTTPError(kind.Status(), msg).SetInternal(err)
}
