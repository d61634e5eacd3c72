package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	// ErrInputValidation marks malformed observations, unknown observation
	// types, negative byte counts, or weight profiles that do not sum to 1.0.
	ErrInputValidation ErrorKind = "input_validation"
	// ErrUnknownRelay marks a fingerprint absent from the active snapshot.
	ErrUnknownRelay ErrorKind = "unknown_relay"
	// ErrBelowThreshold marks pairs or cluster groups filtered by size or
	// score. Recorded in the audit trail, never raised.
	ErrBelowThreshold ErrorKind = "below_threshold"
	// ErrInfeasible marks candidates whose hypothesized path violates relay
	// selection constraints. Recorded in the audit trail, never raised.
	ErrInfeasible ErrorKind = "infeasible"
	// ErrInternalInvariant marks invariant violations during computation.
	ErrInternalInvariant ErrorKind = "internal_invariant"
)

// Error carries a failure kind, the offending identifier, and a message.
type Error struct {
	Kind    ErrorKind
	Subject string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject == "" {
		if e.Err == nil {
			return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Subject, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a kind-carrying Error for the given subject.
func NewError(kind ErrorKind, subject, msg string) *Error {
	return &Error{Kind: kind, Subject: subject, Msg: msg}
}

// KindOf extracts the ErrorKind from err, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
