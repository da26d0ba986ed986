package saga

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a step failure for retry decisions
type ErrorKind string

const (
	// ErrorKindTransient covers infrastructure failures (network, throttling,
	// service unavailable) that are expected to clear on their own
	ErrorKindTransient ErrorKind = "TRANSIENT_INFRASTRUCTURE"

	// ErrorKindBusiness covers explicit handler rejections (card declined,
	// no rooms left) that will not succeed no matter how often we retry
	ErrorKindBusiness ErrorKind = "NON_RETRYABLE_BUSINESS"
)

// StepError is the failure a step handler returns to the engine.
// The Kind decides retryability; the wrapped cause is kept for logging.
type StepError struct {
	StepName string
	Kind     ErrorKind
	Cause    error
}

// Error implements the error interface
func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %s failed (%s): %v", e.StepName, e.Kind, e.Cause)
	}
	return fmt.Sprintf("step %s failed (%s)", e.StepName, e.Kind)
}

// Unwrap returns the underlying error
func (e *StepError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a retryable infrastructure failure
func NewTransientError(stepName string, cause error) *StepError {
	return &StepError{StepName: stepName, Kind: ErrorKindTransient, Cause: cause}
}

// NewBusinessError creates a non-retryable business rejection
func NewBusinessError(stepName string, cause error) *StepError {
	return &StepError{StepName: stepName, Kind: ErrorKindBusiness, Cause: cause}
}

// KindOf extracts the ErrorKind from an error chain. Unclassified errors are
// treated as transient so that an unknown remote outcome is retried rather
// than silently dropped.
func KindOf(err error) ErrorKind {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind
	}
	return ErrorKindTransient
}

// RetryExhaustedError signals that a step failed on every permitted attempt.
// The executor reacts by starting compensation.
type RetryExhaustedError struct {
	StepName string
	Attempts int
	LastErr  error
}

// Error implements the error interface
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("step %s exhausted %d attempts: %v", e.StepName, e.Attempts, e.LastErr)
}

// Unwrap returns the last attempt's error
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// CompensationFailureError is fatal: a compensation step exhausted its own
// retries, so the saga cannot be rolled back automatically and requires
// manual intervention.
type CompensationFailureError struct {
	ExecutionID string
	StepName    string
	Cause       error
}

// Error implements the error interface
func (e *CompensationFailureError) Error() string {
	return fmt.Sprintf("execution %s: compensation %s failed permanently: %v", e.ExecutionID, e.StepName, e.Cause)
}

// Unwrap returns the underlying error
func (e *CompensationFailureError) Unwrap() error {
	return e.Cause
}

// DeadlineExceededError is raised when the saga's wall-clock deadline passes
// while forward steps are still running.
type DeadlineExceededError struct {
	ExecutionID string
}

// Error implements the error interface
func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("execution %s exceeded its deadline", e.ExecutionID)
}

// IsRetryExhausted checks whether an error chain contains a RetryExhaustedError
func IsRetryExhausted(err error) bool {
	var target *RetryExhaustedError
	return errors.As(err, &target)
}

// IsCompensationFailure checks whether an error chain contains a CompensationFailureError
func IsCompensationFailure(err error) bool {
	var target *CompensationFailureError
	return errors.As(err, &target)
}
