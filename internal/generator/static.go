package generator

import (
	"context"
	"fmt"
	"sync"
)

// StaticCompletion replays canned responses in order. It backs dry runs and
// tests where no real model is available.
type StaticCompletion struct {
	mu        sync.Mutex
	responses []string
	next      int

	// Repeat, when true, keeps returning the last response after the
	// scripted ones are exhausted.
	Repeat bool
}

// NewStaticCompletion creates a StaticCompletion over the given responses.
func NewStaticCompletion(responses ...string) *StaticCompletion {
	return &StaticCompletion{responses: responses}
}

// Complete implements the Completion interface.
func (s *StaticCompletion) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.responses) {
		if s.Repeat && len(s.responses) > 0 {
			return s.responses[len(s.responses)-1], nil
		}
		return "", fmt.Errorf("static completion exhausted after %d responses", len(s.responses))
	}

	response := s.responses[s.next]
	s.next++
	return response, nil
}

// Calls returns how many completions have been served.
func (s *StaticCompletion) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Ensure StaticCompletion implements Completion.
var _ Completion = (*StaticCompletion)(nil)
