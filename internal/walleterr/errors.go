// Package walleterr defines the engine's error taxonomy.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Kind. Callers branch on the kind with errors.Is against the sentinels below
// or with KindOf; the Reason string is meant for humans.
package walleterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

// Error kinds.
const (
	KindValidation        Kind = "validation"
	KindInvalidMnemonic   Kind = "invalid_mnemonic"
	KindInvalidPrivateKey Kind = "invalid_private_key"
	KindUnsupportedExport Kind = "unsupported_export"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindEstimationFailed  Kind = "estimation_failed"
	KindSigningFailed     Kind = "signing_failed"
	KindBroadcastRejected Kind = "broadcast_rejected"
	KindUnavailable       Kind = "unavailable"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidMnemonic   = &Error{Kind: KindInvalidMnemonic}
	ErrInvalidPrivateKey = &Error{Kind: KindInvalidPrivateKey}
	ErrUnsupportedExport = &Error{Kind: KindUnsupportedExport}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrEstimationFailed  = &Error{Kind: KindEstimationFailed}
	ErrSigningFailed     = &Error{Kind: KindSigningFailed}
	ErrBroadcastRejected = &Error{Kind: KindBroadcastRejected}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is a classified engine failure.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "evm.broadcast"
	Reason string // human-readable, passed through verbatim from upstream where possible
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && e.Err.Error() != e.Reason {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind. Validation also matches the two
// key-material validation kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Reason != "" || t.Err != nil {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindValidation && (e.Kind == KindInvalidMnemonic || e.Kind == KindInvalidPrivateKey)
}

// New creates an *Error with a formatted reason.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. An err that is already an *Error keeps its
// own kind; only the op is filled in when missing.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		if we.Op == "" {
			cp := *we
			cp.Op = op
			return &cp
		}
		return err
	}
	return &Error{Kind: kind, Op: op, Reason: err.Error(), Err: err}
}

// Validation is shorthand for a validation failure.
func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, format, args...)
}

// NotFound is shorthand for an unknown-entity failure.
func NotFound(op, format string, args ...interface{}) *Error {
	return New(KindNotFound, op, format, args...)
}

// Unavailable wraps an upstream transport failure.
func Unavailable(op string, err error) error {
	return Wrap(KindUnavailable, op, err)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindInternal
}

// ReasonOf returns the human-readable reason of err.
func ReasonOf(err error) string {
	var we *Error
	if errors.As(err, &we) && we.Reason != "" {
		return we.Reason
	}
	return err.Error()
}
