// Package errors implements the error taxonomy from spec §7: Transient,
// Malformed, Conflict, Exhausted, Fatal and Shutdown. It follows the shape of
// storage-node/internal/errors/codes.go (a code plus a wrapped cause) but
// drops the gRPC status mapping, since this core has no gRPC surface.
package errors

import (
	"fmt"

	"go.uber.org/multierr"
)

// Kind classifies an error per spec §7.
type Kind int

const (
	// KindTransient covers I/O, timeout, DEAD peer, DNS failures. The
	// cluster layer makes one attempt per partition and does not retry; a
	// failed partition counts against quorum and its error is surfaced
	// inside Exhausted once quorum cannot be reached.
	KindTransient Kind = iota
	// KindMalformed covers framing/codec failures on incoming data. Never
	// retried; the session is torn down.
	KindMalformed
	// KindConflict covers precondition violations by a caller. Immediate,
	// non-retriable.
	KindConflict
	// KindExhausted covers quorum-not-reachable. Carries the attempted
	// partitions and their sub-errors.
	KindExhausted
	// KindFatal covers disk-full, checksum mismatch on a sealed-segment
	// header, corrupted id-generator state. Stops the node.
	KindFatal
	// KindShutdown is assigned to operations outstanding at node stop.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindConflict:
		return "conflict"
	case KindExhausted:
		return "exhausted"
	case KindFatal:
		return "fatal"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is the taxonomy's concrete type. It always carries its cause chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Attempted is populated on KindExhausted: the partitions that were
	// tried and the sub-error each one returned.
	Attempted map[string]error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Transient(message string, cause error) *Error {
	return New(KindTransient, message, cause)
}

func Malformed(message string, cause error) *Error {
	return New(KindMalformed, message, cause)
}

func Conflict(message string) *Error {
	return New(KindConflict, message, nil)
}

func Fatal(message string, cause error) *Error {
	return New(KindFatal, message, cause)
}

func Shutdown(message string) *Error {
	return New(KindShutdown, message, nil)
}

// Exhausted builds a KindExhausted error from the per-partition sub-errors
// collected by the quorum layer (spec §4.6, §7). The combined cause chain is
// built with multierr so callers can still inspect every sub-error.
func Exhausted(message string, attempted map[string]error) *Error {
	var combined error
	for id, err := range attempted {
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", id, err))
	}
	return &Error{Kind: KindExhausted, Message: message, Cause: combined, Attempted: attempted}
}

// Is reports whether err (or something it wraps) is a taxonomy error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
