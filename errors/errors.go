// Package errors provides the typed errors returned by the workflow engine
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type
type ErrorCode int

const (
	// Common error codes
	ErrUnknown ErrorCode = iota
	ErrNotFound
	ErrInvalidInput
	ErrTimeout
	ErrCancelled

	// Lookup error codes
	ErrDefinitionNotFound
	ErrInstanceNotFound
	ErrStageNotFound
	ErrDecisionNotFound

	// Workflow error codes
	ErrInvalidModification
	ErrExternalHandlerFailure
	ErrInvalidState
	ErrValidation
)

var codeNames = map[ErrorCode]string{
	ErrUnknown:                "unknown",
	ErrNotFound:               "not_found",
	ErrInvalidInput:           "invalid_input",
	ErrTimeout:                "timeout",
	ErrCancelled:              "cancelled",
	ErrDefinitionNotFound:     "definition_not_found",
	ErrInstanceNotFound:       "instance_not_found",
	ErrStageNotFound:          "stage_not_found",
	ErrDecisionNotFound:       "decision_not_found",
	ErrInvalidModification:    "invalid_modification",
	ErrExternalHandlerFailure: "external_handler_failure",
	ErrInvalidState:           "invalid_state",
	ErrValidation:             "validation_failed",
}

// String returns the snake_case name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinels for use with errors.Is
var (
	DefinitionNotFound     = &Error{Code: ErrDefinitionNotFound}
	InstanceNotFound       = &Error{Code: ErrInstanceNotFound}
	StageNotFound          = &Error{Code: ErrStageNotFound}
	DecisionNotFound       = &Error{Code: ErrDecisionNotFound}
	InvalidModification    = &Error{Code: ErrInvalidModification}
	ExternalHandlerFailure = &Error{Code: ErrExternalHandlerFailure}
	InvalidState           = &Error{Code: ErrInvalidState}
	Validation             = &Error{Code: ErrValidation}
	Cancelled              = &Error{Code: ErrCancelled}
	Timeout                = &Error{Code: ErrTimeout}
)

// Error represents a domain-specific error with context
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message provides human-readable error details
	Message string

	// Op describes the operation that failed
	Op string

	// Cause is the underlying error that triggered this one
	Cause error

	// Context holds additional error context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements the errors.Is interface
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithOp adds an operation name to the error
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:    ErrUnknown,
			Message: err.Error(),
			Op:      op,
			Cause:   err,
		}
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      op,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext adds context to the error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:    ErrUnknown,
			Message: err.Error(),
			Cause:   err,
			Context: context,
		}
	}

	newContext := make(map[string]interface{}, len(e.Context)+len(context))
	for k, v := range e.Context {
		newContext[k] = v
	}
	for k, v := range context {
		newContext[k] = v
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      e.Op,
		Cause:   e.Cause,
		Context: newContext,
	}
}

// New creates a new Error
func New(code ErrorCode, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// GetCode returns the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// GetContext returns the error context
func GetContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// IsNotFound returns true for any of the lookup failures
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case ErrNotFound, ErrDefinitionNotFound, ErrInstanceNotFound, ErrStageNotFound, ErrDecisionNotFound:
		return true
	}
	return false
}

// IsTimeout returns true if the error is a timeout error
func IsTimeout(err error) bool {
	return GetCode(err) == ErrTimeout
}

// IsCancelled returns true if the error is a cancelled error
func IsCancelled(err error) bool {
	return GetCode(err) == ErrCancelled
}

// IsExternal returns true if a collaborator (form renderer, action handler,
// approver) caused the failure
func IsExternal(err error) bool {
	return GetCode(err) == ErrExternalHandlerFailure
}

// IsClientError returns true when the caller supplied something the engine
// cannot act on
func IsClientError(err error) bool {
	switch GetCode(err) {
	case ErrInvalidInput, ErrInvalidModification, ErrValidation, ErrInvalidState:
		return true
	}
	return false
}
