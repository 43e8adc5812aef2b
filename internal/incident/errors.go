package incident

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/authz"
	"github.com/beacon-ops/beacon/internal/model"
)

// Kind classifies an engine failure. The HTTP layer maps each kind to one
// status code; nothing below the HTTP layer knows about status codes.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindForbidden
	KindNotFound
	KindInvalidTransition
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every Engine operation.
// Expected business conditions (bad input, denial, illegal transition) are
// reported through it rather than panics; infrastructure failures carry the
// wrapped cause in Err.
type Error struct {
	Kind    Kind
	Message string
	Reason  authz.DenyReason
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("incident: %s: %v", e.Message, e.Err)
	}
	return "incident: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func validationError(msg string, details map[string]any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func forbidden(d authz.Decision, action authz.Action) *Error {
	return &Error{
		Kind:    KindForbidden,
		Message: fmt.Sprintf("not permitted to %s", action),
		Reason:  d.Reason,
		Details: map[string]any{"reason": string(d.Reason), "action": string(action)},
	}
}

func notFound(id uuid.UUID) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: "incident not found",
		Details: map[string]any{"incident_id": id.String()},
	}
}

func invalidTransition(from, to model.IncidentStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot move incident from %s to %s", from, to),
		Details: map[string]any{"from": string(from), "to": string(to)},
	}
}

func internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, Err: err}
}
