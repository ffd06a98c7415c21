package sandbox

import (
	"errors"
	"fmt"
)

// InfraError indicates the sandbox backend itself failed: the environment
// could not be created, the transport dropped, or a command could not be
// started. Infrastructure failures are transient by assumption and are
// retried with backoff; a non-zero exit of a started command is never an
// InfraError.
type InfraError struct {
	// Op is the backend operation that failed (e.g., "create", "exec").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *InfraError) Error() string {
	return fmt.Sprintf("sandbox infrastructure failure during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InfraError) Unwrap() error { return e.Err }

// IsInfra reports whether err is (or wraps) an infrastructure failure.
func IsInfra(err error) bool {
	var infra *InfraError
	return errors.As(err, &infra)
}

// ErrBusy is returned when an exec is attempted while another command is
// already running in the same sandbox.
var ErrBusy = errors.New("sandbox is executing another command")

// ErrStagedWrites is returned when an exec is attempted while staged file
// writes have not been synced to the environment.
var ErrStagedWrites = errors.New("staged writes must be synced before exec")
