package contrib

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching. The typed errors below carry the detail.
var (
	ErrValidation             = errors.New("validation failed")
	ErrEmptyContribution      = errors.New("contribution has no changes")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPatchApply             = errors.New("patch could not be applied")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
)

// ValidationError reports malformed or empty input. Field is empty when the
// problem is not tied to a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is a shorthand used at every input boundary.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// EmptyContributionError is returned when a proposal produces no changeset
// against the current entity.
type EmptyContributionError struct {
	EntityType string
	EntityID   string
}

func (e *EmptyContributionError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("%s: proposal does not change anything", e.EntityType)
	}
	return fmt.Sprintf("%s %s: proposal does not change anything", e.EntityType, e.EntityID)
}

func (e *EmptyContributionError) Is(target error) bool { return target == ErrEmptyContribution }

// InvalidStateTransitionError is returned when a record is not in a state
// that admits the requested transition.
type InvalidStateTransitionError struct {
	ID   string
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("contribution %s: cannot transition to %s: status changed concurrently", e.ID, e.To)
	}
	return fmt.Sprintf("contribution %s: cannot transition from %s to %s", e.ID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// PatchApplyError is returned when a patch conflicts with the live entity.
type PatchApplyError struct {
	EntityType string
	EntityID   string
	Field      string
	Reason     string
	Err        error
}

func (e *PatchApplyError) Error() string {
	msg := fmt.Sprintf("apply patch to %s %s", e.EntityType, e.EntityID)
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PatchApplyError) Is(target error) bool { return target == ErrPatchApply }

func (e *PatchApplyError) Unwrap() error { return e.Err }

// NotFoundError reports a missing entity or contribution.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ForbiddenError reports an actor acting on a record it does not own.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %q may not %s", e.ActorID, e.Action)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }
