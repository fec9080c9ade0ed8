package jobqueue

import "errors"

var (
	// ErrDuplicateJob is returned by Enqueue when a record with the same id already exists.
	ErrDuplicateJob = errors.New("job already enqueued")
	// ErrJobNotFound is returned when no record exists for an id.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotDeadLettered is returned when retrying a job that is not in the dead letter state.
	ErrNotDeadLettered = errors.New("job is not dead-lettered")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. The queue dead-letters such jobs on the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
