// Package sandbox provides disposable execution environments for validating
// generated candidates. A Sandbox stages file writes against a backend
// environment and runs commands in it; the backend may be a local process
// namespace or a remote containerization engine.
package sandbox

import (
	"context"
	"time"
)

// ExecResult is the outcome of one command execution. A non-zero exit code
// is a signal, not an error: it is returned verbatim for the caller to
// interpret.
type ExecResult struct {
	// ExitCode is the process exit code. -1 when the command timed out.
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output, possibly truncated.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error, possibly truncated.
	Stderr string `json:"stderr"`

	// TimedOut indicates the command exceeded the caller-supplied timeout.
	TimedOut bool `json:"timed_out,omitempty"`

	// Duration is how long the command ran.
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited cleanly.
func (r *ExecResult) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Backend is the environment provider behind sandboxes. Implementations
// return *InfraError for transport and environment failures; a command that
// starts and exits non-zero is reported through ExecResult, never as an
// error.
type Backend interface {
	// Create provisions a new environment from a base identifier and an
	// initial file set, returning an opaque handle.
	Create(ctx context.Context, base string, files map[string]string) (string, error)

	// Exec runs a command in the environment. A zero timeout means no limit
	// beyond the context.
	Exec(ctx context.Context, handle string, command []string, cwd string, timeout time.Duration) (*ExecResult, error)

	// WriteFiles materializes the given files into the environment.
	WriteFiles(ctx context.Context, handle string, files map[string]string) error

	// ReadFile returns the content of a file from the environment.
	ReadFile(ctx context.Context, handle string, path string) (string, error)

	// Destroy tears the environment down. Destroying an unknown handle is
	// not an error.
	Destroy(ctx context.Context, handle string) error
}
