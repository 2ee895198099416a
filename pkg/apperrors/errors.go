package apperrors

import "errors"

var (
	// ErrConfiguration marks a malformed rule description or settings value.
	ErrConfiguration = errors.New("configuration error")
	// ErrPrecondition marks a call made before the state it depends on exists,
	// e.g. an exploding rule used before its id pair table was materialised.
	ErrPrecondition = errors.New("precondition failed")
	// ErrExecution wraps failures surfaced by the query execution capability.
	ErrExecution = errors.New("execution error")
	ErrNotFound  = errors.New("not found")
)

// Execution wraps err so that errors.Is matches both ErrExecution and the
// original error. A nil err stays nil.
func Execution(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExecution) {
		return err
	}
	return &executionError{err: err}
}

type executionError struct {
	err error
}

func (e *executionError) Error() string { return e.err.Error() }

func (e *executionError) Unwrap() []error { return []error{ErrExecution, e.err} }
