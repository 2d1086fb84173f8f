// Package apperr implements the error taxonomy of the monitoring core:
// component operations return a tagged result rather than a bare error,
// so HTTP handlers can branch on kind without string-matching messages.
package apperr

import "fmt"

type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindAlreadyPaused  Kind = "already_paused"
	KindAlreadyActive  Kind = "already_active"
	KindValidation     Kind = "validation_error"
	KindUnauthorized   Kind = "unauthorized"
	KindInternal       Kind = "internal"
)

// Error is the sum-typed result: {error, kind, message} from spec §7.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error      { return New(KindNotFound, message) }
func Validation(message string) *Error    { return New(KindValidation, message) }
func Unauthorized(message string) *Error  { return New(KindUnauthorized, message) }
func AlreadyPaused(message string) *Error { return New(KindAlreadyPaused, message) }
func AlreadyActive(message string) *Error { return New(KindAlreadyActive, message) }
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// KindOf extracts the taxonomy kind from err, defaulting to internal for
// anything that didn't originate as an *Error — the request boundary never
// leaks a raw storage error to a caller.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	return KindInternal
}
