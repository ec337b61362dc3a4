package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Concrete error types below match these through errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidEvent = errors.New("invalid event")
	ErrValidation   = errors.New("validation error")
	ErrBusy         = errors.New("busy")
)

// NotFoundError is returned when an entity, event or QR code does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidEventError is returned when an event type is outside the vocabulary of
// the addressed entity kind.
type InvalidEventError struct {
	Kind EntityKind
	Type EventType
}

func (e InvalidEventError) Error() string {
	return fmt.Sprintf("event type %q is not valid for %s", e.Type, e.Kind)
}

// Is matches ErrInvalidEvent.
func (e InvalidEventError) Is(target error) bool { return target == ErrInvalidEvent }

// ValidationError reports a malformed creation or mutation payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// BusyError is returned when the write lock for an entity could not be
// acquired in time. It is safe to retry.
type BusyError struct {
	EntityID string
}

func (e BusyError) Error() string {
	return fmt.Sprintf("entity %s is busy, retry later", e.EntityID)
}

// Is matches ErrBusy.
func (e BusyError) Is(target error) bool { return target == ErrBusy }

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// RuleViolationError is returned when blocking violations are present. It
// matches ErrValidation.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// Is matches ErrValidation.
func (e RuleViolationError) Is(target error) bool { return target == ErrValidation }
