// Package errs defines the stable error kinds surfaced by the IAM core.
// Every failure a caller can observe maps to exactly one Kind plus a stable
// identifier and a human-readable message; transport layers translate kinds
// into protocol-specific codes.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the failure classes of the core.
type Kind int

const (
	// KindUnknown is the zero value; it never appears on errors built
	// through this package.
	KindUnknown Kind = iota

	// KindInvalidArgument marks malformed or missing input, detected
	// before any store access.
	KindInvalidArgument

	// KindNotFound marks an absent aggregate or referenced resource.
	KindNotFound

	// KindPreconditionFailed marks a state that forbids the requested
	// transition, including rejected no-ops.
	KindPreconditionFailed

	// KindAlreadyExists marks a uniqueness invariant that would be
	// violated.
	KindAlreadyExists

	// KindPermissionDenied marks a rejected permission check.
	KindPermissionDenied

	// KindConflict marks a lost optimistic-concurrency race at the event
	// store.
	KindConflict

	// KindInternal marks storage or infrastructure failures unrelated to
	// business rules.
	KindInternal
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindAlreadyExists:
		return "already_exists"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried across the core. ID is a stable,
// grep-able identifier unique to the raising site (e.g. "STORE-pu5Fh").
type Error struct {
	Kind    Kind
	ID      string
	Message string
	parent  error
}

func newError(kind Kind, parent error, id, format string, a ...any) *Error {
	return &Error{
		Kind:    kind,
		ID:      id,
		Message: fmt.Sprintf(format, a...),
		parent:  parent,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.ID, e.Kind, e.Message, e.parent)
	}
	return fmt.Sprintf("%s (%s): %s", e.ID, e.Kind, e.Message)
}

// Unwrap exposes the wrapped parent for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.parent
}

// Is reports whether target is an *Error of the same kind. An empty target
// ID matches any ID, so sentinel comparisons can match whole kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.ID != "" && t.ID != e.ID {
		return false
	}
	return t.Kind == e.Kind
}

func isKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the kind of an error, KindUnknown for errors not built
// through this package. Transport and metrics layers map on it.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindUnknown
	}
	return e.Kind
}

// NewInvalidArgument reports malformed or missing input.
func NewInvalidArgument(parent error, id, format string, a ...any) *Error {
	return newError(KindInvalidArgument, parent, id, format, a...)
}

// IsInvalidArgument reports whether err is of kind InvalidArgument.
func IsInvalidArgument(err error) bool { return isKind(err, KindInvalidArgument) }

// NewNotFound reports an absent aggregate or referenced resource.
func NewNotFound(parent error, id, format string, a ...any) *Error {
	return newError(KindNotFound, parent, id, format, a...)
}

// IsNotFound reports whether err is of kind NotFound.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// NewPreconditionFailed reports a state that forbids the transition.
func NewPreconditionFailed(parent error, id, format string, a ...any) *Error {
	return newError(KindPreconditionFailed, parent, id, format, a...)
}

// IsPreconditionFailed reports whether err is of kind PreconditionFailed.
func IsPreconditionFailed(err error) bool { return isKind(err, KindPreconditionFailed) }

// NewAlreadyExists reports a uniqueness invariant that would be violated.
func NewAlreadyExists(parent error, id, format string, a ...any) *Error {
	return newError(KindAlreadyExists, parent, id, format, a...)
}

// IsAlreadyExists reports whether err is of kind AlreadyExists.
func IsAlreadyExists(err error) bool { return isKind(err, KindAlreadyExists) }

// NewPermissionDenied reports a rejected permission check.
func NewPermissionDenied(parent error, id, format string, a ...any) *Error {
	return newError(KindPermissionDenied, parent, id, format, a...)
}

// IsPermissionDenied reports whether err is of kind PermissionDenied.
func IsPermissionDenied(err error) bool { return isKind(err, KindPermissionDenied) }

// NewConflict reports a lost optimistic-concurrency race.
func NewConflict(parent error, id, format string, a ...any) *Error {
	return newError(KindConflict, parent, id, format, a...)
}

// IsConflict reports whether err is of kind Conflict.
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// NewInternal reports an infrastructure failure.
func NewInternal(parent error, id, format string, a ...any) *Error {
	return newError(KindInternal, parent, id, format, a...)
}

// IsInternal reports whether err is of kind Internal.
func IsInternal(err error) bool { return isKind(err, KindInternal) }
