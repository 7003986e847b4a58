package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies anchoring/verification failures so callers can decide
// whether to retry, re-anchor, or poll again later.
type ErrorKind string

const (
	// ErrConfiguration: missing or malformed signing material at init. Fatal.
	ErrConfiguration ErrorKind = "configuration"
	// ErrValidation: malformed address or hash from the caller. Caught before
	// any network call.
	ErrValidation ErrorKind = "validation"
	// ErrNetwork: RPC unreachable, timed out, or confirmation wait exceeded.
	// Retryable with backoff.
	ErrNetwork ErrorKind = "network"
	// ErrTransaction: the node accepted the request but the transaction was
	// rejected or reverted. Fatal for this attempt.
	ErrTransaction ErrorKind = "transaction"
	// ErrNotFound: transaction or receipt not indexed yet. Transient for
	// recent submissions; poll later.
	ErrNotFound ErrorKind = "not_found"
)

// Error carries a machine-checkable kind and a human-readable reason.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of err, or "" when err carries no kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsConfiguration(err error) bool { return KindOf(err) == ErrConfiguration }
func IsValidation(err error) bool    { return KindOf(err) == ErrValidation }
func IsNetwork(err error) bool       { return KindOf(err) == ErrNetwork }
func IsTransaction(err error) bool   { return KindOf(err) == ErrTransaction }
func IsNotFound(err error) bool      { return KindOf(err) == ErrNotFound }
