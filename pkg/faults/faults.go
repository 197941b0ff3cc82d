// Package faults classifies domain errors so transports can map them without
// knowing every sentinel.
package faults

import "errors"

// Kind is a coarse error category.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindExternalProvider  Kind = "external_provider"
	KindUnauthorized      Kind = "unauthorized"
	KindTransient         Kind = "transient"
	KindInternal          Kind = "internal"
)

// Error is a sentinel carrying its kind.
type Error struct {
	kind    Kind
	message string
}

// New returns a sentinel error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Error returns the message.
func (faultError *Error) Error() string {
	return faultError.message
}

// Kind returns the category.
func (faultError *Error) Kind() Kind {
	return faultError.kind
}

// KindOf reports the kind of the first classified error in the chain.
// Unclassified errors are KindInternal; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var faultError *Error
	if errors.As(err, &faultError) {
		return faultError.kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller may retry the same request unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindExternalProvider, KindTransient:
		return true
	default:
		return false
	}
}
