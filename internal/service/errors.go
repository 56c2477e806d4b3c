package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for every failure kind the service reports.
// Use errors.Is to test for them, or KindOf to classify an error.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrDenied              = errors.New("denied")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrStorage             = errors.New("storage failure")

	// ErrNotDenied is a NotFound for deny-list removals of IPs that are not denied.
	ErrNotDenied = fmt.Errorf("%w: not in deny-list", ErrNotFound)
	// ErrProviderError is a NotFound reported by the provider itself.
	ErrProviderError = fmt.Errorf("%w: provider error", ErrNotFound)
)

// Kind classifies service errors for transport layers.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindDenied
	KindUpstreamUnavailable
	KindProviderError
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDenied:
		return "denied"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindProviderError:
		return "provider_error"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// KindOf returns the Kind of err. Errors not produced by the service are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrDenied):
		return KindDenied
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrProviderError):
		return KindProviderError
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}

// Error carries a user facing message next to its kind and optional cause.
type Error struct {
	kind  error
	msg   string
	cause error
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// NewError returns an error of the given kind carrying msg as its message.
// kind must be one of the sentinel errors of this package.
func NewError(kind error, msg string) error {
	return &Error{kind: kind, msg: msg}
}

func newError(kind error, cause error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func invalidIP(raw string) error {
	return newError(ErrInvalidInput, nil, "Invalid IP address format: %s", raw)
}

func storageFailure(op string, err error) error {
	return newError(ErrStorage, err, "storage failure while %s: %v", op, err)
}
