// Package errkind provides the runtime's typed error-kind taxonomy. Every
// error that can surface out of graph normalization, link resolution, flow
// execution, or provider calls carries one of a closed set of Kinds so
// callers can branch on errors.As instead of string matching, and so the
// orchestrator can decide whether a failure is user-visible, fatal to the
// run, or a cooperative cancellation rather than a true error.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies which of the error taxonomy's categories an Error belongs
// to. Kinds are not wire-visible; they drive internal dispatch (does this
// error end the run, is it user-facing, does it retry).
type Kind string

const (
	// Validation covers a malformed edge, unknown option key, or schema
	// violation. Always user-visible; never retried.
	Validation Kind = "validation"
	// Resolution covers a missing agent, model, node type, or webhook.
	// Surfaced 404-style; user-visible.
	Resolution Kind = "resolution"
	// Topology covers a flow or link cycle. Fatal for the run.
	Topology Kind = "topology"
	// Executor covers an error raised by a node's execute/materialize
	// hook. Local or fatal depending on the node's on_error policy.
	Executor Kind = "executor"
	// Provider covers an LLM stream timeout or upstream provider error.
	Provider Kind = "provider"
	// Cancellation marks a cooperative cancellation. Never reported as
	// RunError; always surfaces as RunCancelled.
	Cancellation Kind = "cancellation"
	// ApprovalTimeout marks a tool-approval wait that expired without a
	// response. Tools default to denied.
	ApprovalTimeout Kind = "approval_timeout"
)

// Error is the runtime's structured error type. It preserves a message and
// an optional wrapped cause so error chains survive across node boundaries
// while still reporting a single Kind for dispatch.
type Error struct {
	Kind Kind
	// Message is the human-readable summary shown to users or logged.
	Message string
	// NodeID identifies the node that raised the error, if any. Empty for
	// errors raised outside node execution (e.g. option validation).
	NodeID string
	// Cause is the wrapped underlying error, if any.
	Cause error
}

// New constructs an Error of the given kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is like New but formats message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that wraps cause. If message
// is empty, cause's message is used.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AtNode returns a copy of e stamped with the node that raised it.
func (e *Error) AtNode(nodeID string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.NodeID = nodeID
	return &clone
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node %s)", e.Kind, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/As over the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errkind.New(errkind.Topology, "")) to test the kind
// without caring about the message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind, true
	}
	return "", false
}

// IsCancellation reports whether err represents a cooperative cancellation,
// which callers must surface as RunCancelled rather than RunError.
func IsCancellation(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == Cancellation
}
