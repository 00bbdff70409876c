package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Storage errors
	ErrNotFound       = errors.New("not found")
	ErrStorage        = errors.New("storage unavailable")
	ErrInvalidPayload = errors.New("invalid stored payload")

	// Credential errors
	ErrNoCredentials      = errors.New("no credentials")
	ErrPartialCredentials = errors.New("partial credentials")

	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrStaleResult      = errors.New("result discarded: session changed while the call was in flight")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Join is errors.Join, re-exported so callers need a single errors import.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
