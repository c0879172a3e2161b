package deskxfer

import (
	"errors"
	"fmt"
)

// Error represents a structured deskxfer error with the context a
// client callback needs to understand which operation failed and why,
// grounded on the teacher's root errors.go Error type.
type Error struct {
	Op    string    // Operation that failed (e.g. "ReceiveData", "SendData")
	Peer  string    // Remote peer id, empty if not applicable
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		if e.Peer != "" {
			return fmt.Sprintf("deskxfer: %s (op=%s peer=%s)", msg, e.Op, e.Peer)
		}
		return fmt.Sprintf("deskxfer: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("deskxfer: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports comparing against a bare ErrorCode as well as another
// *Error with the same code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if c, ok := target.(ErrorCode); ok {
		return e.Code == c
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the taxonomy spec.md §7 names. Cancelled and TimedOut
// are surfaced to clients as a nil error (spec.md: "indistinguishable
// from cancelled at the wire, by design") but still appear here because
// engines need to reason about them internally before converting to
// nil at the public API boundary.
type ErrorCode string

// Error lets a bare ErrorCode serve as an errors.Is/errors.As target,
// grounded on the teacher's legacy UblkError shim.
func (c ErrorCode) Error() string { return string(c) }

const (
	CodeOutOfMemory    ErrorCode = "out of memory"
	CodeOpenInFail     ErrorCode = "failed to open file for reading"
	CodeReadFail       ErrorCode = "failed to read file"
	CodeOpenOutFail    ErrorCode = "failed to open file for writing"
	CodeWriteFail      ErrorCode = "failed to write file"
	CodeFileNotFound   ErrorCode = "file not found"
	CodeIsADirectory   ErrorCode = "path is a directory"
	CodeReceiverDied   ErrorCode = "receiver no longer exists"
	CodeBufferOverflow ErrorCode = "peer wrote past advertised buffer window"
	CodeCancelled      ErrorCode = "cancelled"
	CodeTimedOut       ErrorCode = "timed out waiting for peer"
	CodeHostError      ErrorCode = "host event API error"
	// CodeProtocol covers malformed or out-of-sequence wire messages;
	// spec.md §7 doesn't name it, but §8's "stale reply returned
	// unclaimed" behavior needs an internal code to log against.
	CodeProtocol ErrorCode = "protocol violation"
)

// NewError creates a structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewPeerError creates a structured error naming the remote peer
// involved.
func NewPeerError(op, peer string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Peer: peer, Code: code, Msg: msg}
}

// WrapError wraps inner with deskxfer context, preserving an existing
// structured error's code when possible.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if de, ok := inner.(*Error); ok {
		return &Error{Op: op, Peer: de.Peer, Code: de.Code, Msg: de.Msg, Inner: de.Inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error (directly or wrapped) with
// the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsTerminalWithoutError reports whether code is one the public API
// surfaces as a nil error per spec.md §7 (Cancelled and TimedOut are
// "indistinguishable from cancelled at the wire, by design").
func IsTerminalWithoutError(code ErrorCode) bool {
	return code == CodeCancelled || code == CodeTimedOut
}
