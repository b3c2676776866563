package engine

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure so callers can map it to a specific
// response without parsing messages.
type Kind string

const (
	KindProjectNotEligible    Kind = "project_not_eligible"
	KindNoEligibleCandidates  Kind = "no_eligible_candidates"
	KindCandidateNotFound     Kind = "candidate_not_found"
	KindNotYourAssignment     Kind = "not_your_assignment"
	KindBatchNotActive        Kind = "batch_not_active"
	KindInvalidResponseStatus Kind = "invalid_response_status"
	KindDeadlinePassed        Kind = "deadline_passed"
	KindAlreadyClaimed        Kind = "already_claimed"
	// KindConflict is a transient lock conflict that outlived the retry budget.
	// Callers may retry.
	KindConflict     Kind = "conflict"
	KindInvalidInput Kind = "invalid_input"
)

// Error is returned for every expected, non-infrastructure failure.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// Is matches another *Error of the same kind, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrProjectNotEligible    = &Error{Kind: KindProjectNotEligible, Message: "project not eligible"}
	ErrNoEligibleCandidates  = &Error{Kind: KindNoEligibleCandidates, Message: "no eligible candidates"}
	ErrCandidateNotFound     = &Error{Kind: KindCandidateNotFound, Message: "candidate not found"}
	ErrNotYourAssignment     = &Error{Kind: KindNotYourAssignment, Message: "not your assignment"}
	ErrBatchNotActive        = &Error{Kind: KindBatchNotActive, Message: "batch not active"}
	ErrInvalidResponseStatus = &Error{Kind: KindInvalidResponseStatus, Message: "invalid response status"}
	ErrDeadlinePassed        = &Error{Kind: KindDeadlinePassed, Message: "deadline passed"}
	ErrAlreadyClaimed        = &Error{Kind: KindAlreadyClaimed, Message: "already claimed"}
	ErrConflict              = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

func newError(kind Kind, details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

// KindOf returns the kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
