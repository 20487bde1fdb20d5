package coordinator

import (
	"errors"
)

// UserError marks a failure the operator caused or can fix: bad config,
// validation problems, a dispatch that needs manual reconciliation. The CLI
// maps it to exit code 1; anything unmarked is a technical failure, exit 2.
type UserError struct {
	Err error
}

func (e *UserError) Error() string { return e.Err.Error() }
func (e *UserError) Unwrap() error { return e.Err }

// AsUser wraps err as a user-facing error. nil stays nil.
func AsUser(err error) error {
	if err == nil {
		return nil
	}
	return &UserError{Err: err}
}

// ExitCode maps an error to the CLI exit code: 0 success, 1 user-facing,
// 2 technical.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var user *UserError
	if errors.As(err, &user) {
		return 1
	}
	return 2
}
