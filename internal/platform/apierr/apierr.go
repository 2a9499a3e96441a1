package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a status-carrying wrapper used by HTTP handlers that already
// know their exact status code. Kind/StatusFor below cover the common case
// where only an error *kind* is known and the status must be derived.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Sentinel kinds, per the error-kind table: validation, ownership,
// not_found, external (timeouts and 5xx alike), budget_exceeded,
// integrity, internal. Callers wrap a cause with Wrap(ErrNotFound, cause) and
// handlers classify with Kind(err) to pick a status code; they never
// hand-roll a status switch inline.
var (
	ErrNotFound        = errors.New("not_found")
	ErrUnauthorized    = errors.New("ownership")
	ErrInvalidArgument = errors.New("validation")
	ErrIntegrity       = errors.New("integrity")
	ErrBudgetExceeded  = errors.New("budget_exceeded")
	ErrExternal        = errors.New("external")
	ErrInternal        = errors.New("internal")
)

// kindError pairs a sentinel kind with the underlying cause so errors.Is
// still matches the sentinel while Error() keeps the cause's message.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.kind.Error()
}

func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Is(target error) bool { return errors.Is(e.kind, target) }

// Wrap attaches a sentinel kind to cause so it classifies correctly at the
// HTTP boundary while preserving the original message and Unwrap chain.
func Wrap(kind error, cause error) error {
	if cause == nil {
		return nil
	}
	return &kindError{kind: kind, cause: cause}
}

// Kind classifies err against the sentinel kinds. Unrecognized errors
// classify as "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "ownership"
	case errors.Is(err, ErrInvalidArgument):
		return "validation"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, ErrExternal):
		return "external"
	default:
		return "internal"
	}
}

// StatusFor maps an error classified by Kind to the HTTP status code
// handlers should respond with.
func StatusFor(err error) int {
	switch Kind(err) {
	case "validation", "integrity", "budget_exceeded":
		return http.StatusBadRequest
	case "ownership":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
