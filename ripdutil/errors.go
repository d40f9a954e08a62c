// Package ripdutil holds small pieces shared across the core packages:
// the error taxonomy every boundary reports through, and the byte-level
// helpers the wire codec builds on.
package ripdutil

import (
	"errors"
	"fmt"
)

// Kind classifies an error at a core boundary.
type Kind int

const (
	// KindInputInvalid covers malformed CIDR, non-contiguous mask, or
	// administratively unreachable input. No state change occurs.
	KindInputInvalid Kind = iota
	// KindWireMalformed covers a datagram that fails header/entry
	// framing (bad length, bad version, bad reserved field).
	KindWireMalformed
	// KindWireSemantic covers a structurally valid datagram with a
	// semantic violation in one entry (bad AF, bad mask, metric > 16,
	// destination outside mask).
	KindWireSemantic
	// KindInterfaceBindFailure covers a socket bind/join failure.
	KindInterfaceBindFailure
	// KindTransientSendError covers a send_to failure that does not
	// affect engine state.
	KindTransientSendError
	// KindInternalInvariantBroken marks a programming error; the task
	// that observed it must terminate, the daemon must not.
	KindInternalInvariantBroken
)

func (k Kind) String() string {
	switch k {
	case KindInputInvalid:
		return "InputInvalid"
	case KindWireMalformed:
		return "WireMalformed"
	case KindWireSemantic:
		return "WireSemantic"
	case KindInterfaceBindFailure:
		return "InterfaceBindFailure"
	case KindTransientSendError:
		return "TransientSendError"
	case KindInternalInvariantBroken:
		return "InternalInvariantBroken"
	default:
		return "Unknown"
	}
}

// Error is the common error type returned at core boundaries. It
// carries a Kind so callers can branch on category with errors.Is
// against the sentinel of the same Kind, rather than string matching.
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

// Is reports whether target is the sentinel for this error's Kind,
// letting callers write errors.Is(err, ripdutil.ErrWireMalformed).
func (e *Error) Is(target error) bool {
	var sentinel *sentinelError
	if errors.As(target, &sentinel) {
		return sentinel.kind == e.Kind
	}
	return false
}

type sentinelError struct {
	kind Kind
}

func (s *sentinelError) Error() string { return s.kind.String() }

// Sentinels for errors.Is comparisons.
var (
	ErrInputInvalid            = &sentinelError{KindInputInvalid}
	ErrWireMalformed           = &sentinelError{KindWireMalformed}
	ErrWireSemantic            = &sentinelError{KindWireSemantic}
	ErrInterfaceBindFailure    = &sentinelError{KindInterfaceBindFailure}
	ErrTransientSendError      = &sentinelError{KindTransientSendError}
	ErrInternalInvariantBroken = &sentinelError{KindInternalInvariantBroken}
)

// New builds an *Error of the given kind wrapping err (which may be nil).
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf is New with a formatted message.
func Newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
