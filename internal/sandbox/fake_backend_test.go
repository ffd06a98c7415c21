package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeBackend is an in-memory Backend for tests. Commands are matched by
// their joined string against scripted results; unknown commands succeed.
type fakeBackend struct {
	mu       sync.Mutex
	next     int
	files    map[string]map[string]string
	results  map[string]*ExecResult
	execErrs []error // consumed in order before any result lookup
	created  int
	synced   [][]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		files:   make(map[string]map[string]string),
		results: make(map[string]*ExecResult),
	}
}

func (f *fakeBackend) scriptExecErrs(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execErrs = append(f.execErrs, errs...)
}

func (f *fakeBackend) scriptResult(command string, result *ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[command] = result
}

func (f *fakeBackend) Create(ctx context.Context, base string, files map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.created++
	handle := fmt.Sprintf("fake-%d", f.next)
	cloned := make(map[string]string, len(files))
	for k, v := range files {
		cloned[k] = v
	}
	f.files[handle] = cloned
	return handle, nil
}

func (f *fakeBackend) Exec(ctx context.Context, handle string, command []string, cwd string, timeout time.Duration) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.execErrs) > 0 {
		err := f.execErrs[0]
		f.execErrs = f.execErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	if result, ok := f.results[strings.Join(command, " ")]; ok {
		return result, nil
	}
	return &ExecResult{ExitCode: 0, Duration: time.Millisecond}, nil
}

func (f *fakeBackend) WriteFiles(ctx context.Context, handle string, files map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	env, ok := f.files[handle]
	if !ok {
		return &InfraError{Op: "sync", Err: fmt.Errorf("unknown handle %q", handle)}
	}
	var paths []string
	for k, v := range files {
		env[k] = v
		paths = append(paths, k)
	}
	f.synced = append(f.synced, paths)
	return nil
}

func (f *fakeBackend) ReadFile(ctx context.Context, handle string, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	env, ok := f.files[handle]
	if !ok {
		return "", &InfraError{Op: "read", Err: fmt.Errorf("unknown handle %q", handle)}
	}
	content, ok := env[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (f *fakeBackend) Destroy(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, handle)
	return nil
}

var _ Backend = (*fakeBackend)(nil)
