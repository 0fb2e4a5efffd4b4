// Package errcode classifies errors raised by the management core.
//
// Every package keeps its own sentinel errors. Errors that cross a package
// boundary are wrapped in an *Error carrying a Kind, so callers can decide
// whether to retry (transport), abort (protocol, security) or fix the call
// site (programmer) without matching on individual sentinels.
package errcode

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy.
type Kind uint8

const (
	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = iota

	// KindTransport covers resource exhaustion and timeouts. Retryable per policy.
	KindTransport

	// KindProtocol covers invalid transitions, version mismatch and malformed buffers.
	KindProtocol

	// KindSecurity covers signature, certificate, authentication and replay failures.
	KindSecurity

	// KindProgrammer covers invalid arguments.
	KindProgrammer
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TRANSPORT"
	case KindProtocol:
		return "PROTOCOL"
	case KindSecurity:
		return "SECURITY"
	case KindProgrammer:
		return "PROGRAMMER"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether errors of this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindTransport
}

// Error wraps a cause with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transport wraps err as a transport error.
func Transport(op string, err error) error { return New(KindTransport, op, err) }

// Protocol wraps err as a protocol error.
func Protocol(op string, err error) error { return New(KindProtocol, op, err) }

// Security wraps err as a security error.
func Security(op string, err error) error { return New(KindSecurity, op, err) }

// Programmer wraps err as a programmer error.
func Programmer(op string, err error) error { return New(KindProgrammer, op, err) }

// KindOf returns the outermost kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
