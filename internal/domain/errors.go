package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers and the HTTP layer can map it
// without string matching.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindState              Kind = "STATE"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindDuplicateOperation Kind = "DUPLICATE_OPERATION"
	KindPermission         Kind = "PERMISSION"
)

// Error carries a failure kind plus a human-readable message. Every failure
// surfaced by the ledger core is one of these, possibly wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes two domain errors match when their kinds match, so sentinel
// comparisons like errors.Is(err, domain.ErrInsufficientFunds) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation         = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrState              = &Error{Kind: KindState, Message: "invalid state"}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrDuplicateOperation = &Error{Kind: KindDuplicateOperation, Message: "duplicate operation"}
	ErrPermission         = &Error{Kind: KindPermission, Message: "permission denied"}
)

func ValidationErrorf(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func NotFoundErrorf(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func StateErrorf(format string, args ...any) *Error {
	return newError(KindState, format, args...)
}

func InsufficientFundsErrorf(format string, args ...any) *Error {
	return newError(KindInsufficientFunds, format, args...)
}

func DuplicateOperationErrorf(format string, args ...any) *Error {
	return newError(KindDuplicateOperation, format, args...)
}

func PermissionErrorf(format string, args ...any) *Error {
	return newError(KindPermission, format, args...)
}

// KindOf extracts the kind from err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
