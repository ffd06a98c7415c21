package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxOutputSize is the default maximum captured output size in bytes (1MB).
const DefaultMaxOutputSize = 1024 * 1024

// LocalBackend implements Backend using throwaway directories and local
// subprocesses. It is the reference backend for development and tests; a
// remote container engine satisfies the same interface.
type LocalBackend struct {
	mu            sync.Mutex
	dirs          map[string]string
	maxOutputSize int
}

// NewLocalBackend creates a LocalBackend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		dirs:          make(map[string]string),
		maxOutputSize: DefaultMaxOutputSize,
	}
}

// SetMaxOutputSize sets the maximum captured output size in bytes.
// Output exceeding this limit is truncated.
func (b *LocalBackend) SetMaxOutputSize(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxOutputSize = size
}

// Create provisions a temp directory populated with the initial file set.
// The base identifier is recorded in the directory name only; a local
// process namespace has no image to pull.
func (b *LocalBackend) Create(ctx context.Context, base string, files map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	prefix := "forge-sandbox-"
	if base != "" {
		prefix += sanitize(base) + "-"
	}
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", &InfraError{Op: "create", Err: err}
	}

	if err := writeTree(dir, files); err != nil {
		_ = os.RemoveAll(dir)
		return "", &InfraError{Op: "create", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs[dir] = dir
	return dir, nil
}

// Exec runs a command inside the environment directory. Start failures are
// infrastructure errors; non-zero exits and timeouts are reported through
// the result.
func (b *LocalBackend) Exec(ctx context.Context, handle string, command []string, cwd string, timeout time.Duration) (*ExecResult, error) {
	dir, err := b.dir(handle)
	if err != nil {
		return nil, err
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, command[0], command[1:]...)
	cmd.Dir = dir
	if cwd != "" {
		cmd.Dir = filepath.Join(dir, cwd)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	result := &ExecResult{
		ExitCode: 0,
		Stdout:   b.truncate(stdout.String()),
		Stderr:   b.truncate(stderr.String()),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}

	// The caller's context being cancelled is neither a command failure nor
	// an infrastructure fault.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	// The process never started (binary missing, fork failure).
	return nil, &InfraError{Op: "exec", Err: runErr}
}

// WriteFiles materializes the given files into the environment directory.
func (b *LocalBackend) WriteFiles(ctx context.Context, handle string, files map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := b.dir(handle)
	if err != nil {
		return err
	}
	if err := writeTree(dir, files); err != nil {
		return &InfraError{Op: "sync", Err: err}
	}
	return nil
}

// ReadFile returns the content of a file from the environment directory.
func (b *LocalBackend) ReadFile(ctx context.Context, handle string, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := b.dir(handle)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// Destroy removes the environment directory. Unknown handles are ignored.
func (b *LocalBackend) Destroy(ctx context.Context, handle string) error {
	b.mu.Lock()
	dir, ok := b.dirs[handle]
	delete(b.dirs, handle)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return &InfraError{Op: "destroy", Err: err}
	}
	return nil
}

func (b *LocalBackend) dir(handle string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dir, ok := b.dirs[handle]
	if !ok {
		return "", &InfraError{Op: "lookup", Err: fmt.Errorf("unknown sandbox handle %q", handle)}
	}
	return dir, nil
}

func (b *LocalBackend) truncate(output string) string {
	b.mu.Lock()
	limit := b.maxOutputSize
	b.mu.Unlock()

	if limit <= 0 || len(output) <= limit {
		return output
	}
	return output[:limit] + "\n... [output truncated]"
}

func writeTree(root string, files map[string]string) error {
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

// Ensure LocalBackend implements Backend.
var _ Backend = (*LocalBackend)(nil)
