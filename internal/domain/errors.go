package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change is not an edge of the
	// state machine or the job is no longer in the expected status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidPayload is returned when a queue task payload is malformed
	ErrInvalidPayload = errors.New("invalid task payload")

	// ErrUnsupportedMediaKind is returned when no transformer handles a media kind
	ErrUnsupportedMediaKind = errors.New("unsupported media kind")

	// ErrJobNotReady is returned when a task is delivered before its job left pending
	ErrJobNotReady = errors.New("job not ready for processing")
)

// RetryableError wraps transient errors that should leave the task for redelivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is, or wraps, a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
