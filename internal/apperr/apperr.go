// Package apperr defines the error taxonomy shared by the scheduler:
// every failure surfaced to a user or to the process boundary carries
// one Kind so callers can decide between "report and keep the session",
// "report and purge" and "exit".
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how it must be handled.
type Kind int

const (
	// KindUnknown is any error that does not carry a Kind. The state
	// machine treats it as an unrecoverable internal failure.
	KindUnknown Kind = iota
	// KindInput is oversized, empty or unrelated user input.
	KindInput
	// KindValidation is malformed task fields coming from extraction.
	KindValidation
	// KindClarification is an empty or malformed clarification reply.
	KindClarification
	// KindExternalService is an extraction failure after retries and fallback.
	KindExternalService
	// KindStateConflict is an action attempted in the wrong state.
	KindStateConflict
	// KindFatalConfig is a missing or placeholder secret at startup.
	KindFatalConfig
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindValidation:
		return "validation"
	case KindClarification:
		return "clarification"
	case KindExternalService:
		return "external_service"
	case KindStateConflict:
		return "state_conflict"
	case KindFatalConfig:
		return "fatal_config"
	default:
		return "unknown"
	}
}

// Error is a classified error. Msg is safe to show to the user; Err is the
// underlying cause, kept for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err. A nil err still yields a usable *Error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
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

// UserMessage returns the user-facing text of a classified error, or the
// fallback for anything unclassified.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return fallback
}
