// Package fault defines the error taxonomy shared by the host pipeline and
// the serial link. Callers branch on Kind to decide whether a failure is
// recoverable, disables a feature for the session, or only needs reporting.
package fault

import (
	stderrors "errors"
)

// Kind categorizes failures.
type Kind uint8

const (
	// KindTransport covers serial connect/read/write failures. The link stays
	// up; the caller decides whether to disconnect.
	KindTransport Kind = iota + 1
	// KindPQCUnavailable means no post-quantum capability is present. The PQC
	// path stays disabled for the rest of the session.
	KindPQCUnavailable
	// KindWrap means one wrapping strategy failed and the next one should run.
	KindWrap
	// KindAuditDegenerate marks an empty or too small sample.
	KindAuditDegenerate
	// KindPersistence marks a failed write of the key log or an artifact.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindPQCUnavailable:
		return "pqc_unavailable"
	case KindWrap:
		return "wrap_failure"
	case KindAuditDegenerate:
		return "audit_degenerate"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is a kinded error with an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Inner error
}

// Error returns the message followed by the cause, if any.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Inner == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Inner.Error()
}

func (e *Error) Unwrap() error { return e.Inner }

// Is makes errors.Is match two *Error values of the same kind and message,
// which lets package-level sentinels be compared after wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg && t.Inner == nil
}

// New returns an *Error without a cause, suitable as a sentinel.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap returns an *Error of kind around inner.
func Wrap(kind Kind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

// IsKind reports whether the first *Error in err's chain has kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if stderrors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if stderrors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
