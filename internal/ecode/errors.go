// Package ecode defines the error kinds surfaced by the plotter daemon core.
package ecode

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotReady        Kind = "not_ready"
	KindTimeout         Kind = "timeout"
	KindControllerError Kind = "controller_error"
	KindProtocolError   Kind = "protocol_error"
	KindInvalidState    Kind = "invalid_state"
	KindNotFound        Kind = "not_found"
	KindCancelled       Kind = "cancelled"
	KindParseError      Kind = "parse_error"
	KindIOError         Kind = "io_error"
)

// Sentinel errors for errors.Is comparisons against a Kind alone.
var (
	ErrNotReady        = &Error{Kind: KindNotReady, Message: "transport not ready"}
	ErrTimeout         = &Error{Kind: KindTimeout, Message: "command timed out"}
	ErrControllerError = &Error{Kind: KindControllerError, Message: "controller reported an error"}
	ErrProtocolError   = &Error{Kind: KindProtocolError, Message: "malformed response"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Message: "invalid state transition"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrCancelled       = &Error{Kind: KindCancelled, Message: "cancelled"}
	ErrParseError      = &Error{Kind: KindParseError, Message: "parse error"}
	ErrIOError         = &Error{Kind: KindIOError, Message: "i/o error"}
)

// Error is a structured failure carrying the kind plus execution context.
type Error struct {
	Kind    Kind
	Message string
	Line    int    // 1-indexed source line, 0 when not applicable
	Command string // the command in flight, when applicable
}

func (e *Error) Error() string {
	if e.Line > 0 && e.Command != "" {
		return fmt.Sprintf("%s: %s (line %d: %q)", e.Kind, e.Message, e.Line, e.Command)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Kind, e.Message, e.Line)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target shares this error's Kind, so callers can write
// errors.Is(err, ecode.ErrTimeout) regardless of Line/Command/Message detail.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds a structured error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a structured error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithLine attaches a source line number to a copy of the error.
func (e *Error) WithLine(line int) *Error {
	c := *e
	c.Line = line
	return &c
}

// WithCommand attaches the in-flight command to a copy of the error.
func (e *Error) WithCommand(cmd string) *Error {
	c := *e
	c.Command = cmd
	return &c
}

// Required formats a "<field> required" message.
func Required(field string) string {
	return fmt.Sprintf("%s required", field)
}

// Invalid formats a "<field> invalid" message.
func Invalid(field string) string {
	return fmt.Sprintf("%s invalid", field)
}
