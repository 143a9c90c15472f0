// Package errs defines the typed errors returned by every election command.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable class of a domain error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindState      Kind = "state"
	KindInternal   Kind = "internal"
)

// Error is a domain error carrying a Kind and a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and message, so sentinels
// work with errors.Is even after being wrapped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

func State(format string, args ...interface{}) *Error {
	return newf(KindState, format, args...)
}

// Wrap attaches a cause to a domain error without changing its kind.
func Wrap(e *Error, cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Err: cause}
}

// KindOf reports the kind of err, or KindInternal for anything that is not
// a domain error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf returns the domain message of err, falling back to err.Error().
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// Domain sentinels, comparable with errors.Is.
var (
	ErrElectionNotOpen      = State("election not open")
	ErrCandidateNotEligible = Conflict("candidate not eligible")
	ErrAlreadyVoted         = Conflict("already voted")
	ErrVoterNotEligible     = Forbidden("voter not eligible")
	ErrResultsNotPublished  = Forbidden("results not published")
	ErrUnauthenticated      = Forbidden("unauthenticated")
	ErrElectionNotFound     = NotFound("election not found")
	ErrCandidateNotFound    = NotFound("candidate not found")
	ErrTitleTaken           = Conflict("election title already exists")
	ErrAlreadyCandidate     = Conflict("user already holds a candidacy in this election")
	ErrCandidateHasVotes    = State("candidate already received votes")
)
