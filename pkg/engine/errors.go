// Package engine plans and executes pipeline runs: it expands a blueprint
// tree into jobs, assigns them to topological layers and dispatches them to
// producer handlers with bounded parallelism.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure for retry and recovery decisions.
type ErrorClass string

const (
	// ErrorClassUserInput indicates a blueprint or config mistake.
	// Never retried automatically.
	ErrorClassUserInput ErrorClass = "user_input"

	// ErrorClassTransient indicates a temporary provider failure.
	// Examples: network errors, rate limits, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates an irrecoverable provider error.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassRecoverable indicates a long-running provider job with a
	// request id that can be polled later by the recovery prepass.
	ErrorClassRecoverable ErrorClass = "recoverable"

	// ErrorClassInternal indicates a violated engine invariant.
	// Examples: cycle after validation, event-log corruption.
	ErrorClassInternal ErrorClass = "internal"
)

// PipelineError is a classified error with context.
type PipelineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Producer is the producer alias that caused the error, if applicable.
	Producer string `json:"producer,omitempty"`

	// JobID is the job being executed when the error occurred.
	JobID string `json:"jobId,omitempty"`

	// ProviderRequestID identifies a trackable provider job for recovery.
	ProviderRequestID string `json:"providerRequestId,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Producer != "" && e.JobID != "" {
		return fmt.Sprintf("[%s] %s (producer=%s, job=%s): %s",
			e.Class, e.Message, e.Producer, e.JobID, e.unwrapMessage())
	}
	if e.Producer != "" {
		return fmt.Sprintf("[%s] %s (producer=%s): %s",
			e.Class, e.Message, e.Producer, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewUserInputError creates a new user-input error.
func NewUserInputError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassUserInput, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewRecoverableError creates a new recoverable error carrying the provider
// request id the recovery prepass will poll.
func NewRecoverableError(message, providerRequestID string, err error) *PipelineError {
	return &PipelineError{
		Class:             ErrorClassRecoverable,
		Message:           message,
		ProviderRequestID: providerRequestID,
		Err:               err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithProducer adds producer context to an error.
func (e *PipelineError) WithProducer(alias string) *PipelineError {
	e.Producer = alias
	return e
}

// WithJob adds job context to an error.
func (e *PipelineError) WithJob(jobID string) *PipelineError {
	e.JobID = jobID
	return e
}

// WithCode adds an error code to an error.
func (e *PipelineError) WithCode(code string) *PipelineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CausedByUser reports whether the error is the user's to fix.
func (e *PipelineError) CausedByUser() bool {
	return e.Class == ErrorClassUserInput
}

// IsUserInput returns true if the error is classified as user input.
func IsUserInput(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUserInput
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRecoverable returns true if the error carries a pollable provider job.
func IsRecoverable(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRecoverable
	}
	return false
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassInternal
	}
	return false
}

// IsRetryable returns true if the error can be retried in-process.
// Only transient errors are; recoverable errors wait for the prepass.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Classify returns the class of an error, defaulting unclassified errors to
// permanent.
func Classify(err error) ErrorClass {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeMissingInput    = "MISSING_INPUT"
	ErrCodeUnknownRef      = "UNKNOWN_REFERENCE"
	ErrCodeCycleDetected   = "CYCLE_DETECTED"
	ErrCodeInvalidConfig   = "INVALID_CONFIG"
	ErrCodeInvalidPattern  = "INVALID_PATTERN"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeProviderFailed  = "PROVIDER_FAILED"
	ErrCodeStorageFailed   = "STORAGE_FAILED"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeNoOutputIndex   = "NO_OUTPUT_INDEX"
	ErrCodeMissingArtifact = "MISSING_ARTIFACT"
)
