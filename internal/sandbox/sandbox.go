package sandbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sandbox is one disposable execution environment bound to a backend
// handle. File writes are staged locally and must be synced before a
// dependent exec can observe them. A Sandbox must not run two commands
// concurrently; Exec enforces this.
type Sandbox struct {
	backend Backend
	handle  string
	retry   RetryConfig
	logger  *zap.Logger

	mu     sync.Mutex
	staged map[string]string
	busy   bool
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithRetryConfig overrides the backend retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Sandbox) { s.retry = cfg }
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sandbox) { s.logger = logger }
}

// New provisions a fresh environment from the base identifier and initial
// file set. Creation is retried on infrastructure failure.
func New(ctx context.Context, backend Backend, base string, files map[string]string, opts ...Option) (*Sandbox, error) {
	s := &Sandbox{
		backend: backend,
		retry:   DefaultRetryConfig(),
		logger:  zap.NewNop(),
		staged:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	err := WithRetry(ctx, s.retry, func(ctx context.Context) error {
		handle, createErr := backend.Create(ctx, base, files)
		if createErr != nil {
			return createErr
		}
		s.handle = handle
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("sandbox created", zap.String("handle", s.handle), zap.String("base", base))
	return s, nil
}

// WriteFile stages a file write. The write is not visible to exec until
// Sync is called.
func (s *Sandbox) WriteFile(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[path] = content
}

// Sync materializes all staged writes into the environment. Syncing with
// nothing staged is a no-op.
func (s *Sandbox) Sync(ctx context.Context) error {
	s.mu.Lock()
	if len(s.staged) == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := s.staged
	s.staged = make(map[string]string)
	s.mu.Unlock()

	err := WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.backend.WriteFiles(ctx, s.handle, pending)
	})
	if err != nil {
		// Restage so the caller can retry the sync.
		s.mu.Lock()
		for path, content := range pending {
			if _, exists := s.staged[path]; !exists {
				s.staged[path] = content
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Exec runs one command in the environment. Infrastructure failures are
// retried with backoff; a non-zero exit or timeout is returned verbatim in
// the result. Exec fails if staged writes have not been synced or another
// command is still running.
func (s *Sandbox) Exec(ctx context.Context, command []string, cwd string, timeout time.Duration) (*ExecResult, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if len(s.staged) > 0 {
		s.mu.Unlock()
		return nil, ErrStagedWrites
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	var result *ExecResult
	err := WithRetry(ctx, s.retry, func(ctx context.Context) error {
		res, execErr := s.backend.Exec(ctx, s.handle, command, cwd, timeout)
		if execErr != nil {
			return execErr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("sandbox exec",
		zap.Strings("command", command),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// ReadFile returns the content of a file from the environment.
func (s *Sandbox) ReadFile(ctx context.Context, path string) (string, error) {
	var content string
	err := WithRetry(ctx, s.retry, func(ctx context.Context) error {
		c, readErr := s.backend.ReadFile(ctx, s.handle, path)
		if readErr != nil {
			return readErr
		}
		content = c
		return nil
	})
	return content, err
}

// Destroy tears the environment down. It is safe to call after a failed
// validation; teardown is unconditional.
func (s *Sandbox) Destroy(ctx context.Context) error {
	return s.backend.Destroy(ctx, s.handle)
}
