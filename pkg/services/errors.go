// Package services provides the flow, step and publishing operations and their error types.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/scheduler"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (422 Unprocessable Entity).
	ErrIncompleteSteps     = errors.New("all steps should be completed before updating flow status")
	ErrInsufficientSteps   = errors.New("there should be at least one trigger and one action steps in the flow")
	ErrCannotDeleteTrigger = errors.New("the trigger step cannot be deleted")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEmptyOwnerID        = errors.New("owner ID cannot be empty")
)

// Validation error types, exposed to API clients.
const (
	IncompleteStepsErrorType   = "incompleteStepsError"
	InsufficientStepsErrorType = "insufficientStepsError"
	ValidationErrorType        = "validationError"
)

// ValidationError is a rejected request. Fields maps the attribute at fault to its messages.
type ValidationError struct {
	Type   string
	Fields map[string][]string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}

	parts := make([]string, 0, len(e.Fields))
	for field, messages := range e.Fields {
		parts = append(parts, field+": "+strings.Join(messages, ", "))
	}

	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newIncompleteStepsError() *ValidationError {
	return &ValidationError{
		Type:   IncompleteStepsErrorType,
		Fields: map[string][]string{"flow": {"All steps should be completed before updating flow status!"}},
		Err:    ErrIncompleteSteps,
	}
}

func newInsufficientStepsError() *ValidationError {
	return &ValidationError{
		Type:   InsufficientStepsErrorType,
		Fields: map[string][]string{"flow": {"There should be at least one trigger and one action steps in the flow!"}},
		Err:    ErrInsufficientSteps,
	}
}

func newValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Type:   ValidationErrorType,
		Fields: map[string][]string{field: {message}},
		Err:    err,
	}
}

// AdapterError wraps a failure raised by, or while resolving, a trigger or action adapter.
type AdapterError struct {
	Op     string
	AppKey string
	Key    string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s/%s %s failed: %v", e.AppKey, e.Key, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// SchedulerError is the error returned when adding or removing a recurring job fails.
type SchedulerError = scheduler.SchedulerError

// IsValidationError checks if an error is a validation error that should return HTTP 422.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}

// IsNotFoundError checks if a referenced flow, step, execution or adapter is absent.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err) ||
		errors.Is(err, registry.ErrAppNotFound) ||
		errors.Is(err, registry.ErrTriggerNotFound) ||
		errors.Is(err, registry.ErrActionNotFound)
}

func IsAdapterError(err error) bool {
	var adapterErr *AdapterError

	return errors.As(err, &adapterErr)
}

func IsSchedulerError(err error) bool {
	var schedulerErr *SchedulerError

	return errors.As(err, &schedulerErr)
}
