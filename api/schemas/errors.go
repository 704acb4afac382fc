// File: api/schemas/errors.go
package schemas

import "errors"

// TransientError wraps a collaborator failure that is worth retrying, such
// as a rate limit or a malformed model response. Anything not wrapped this
// way is treated as fatal and ends the session.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
