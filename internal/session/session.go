// Package session ties one goal to one phase state machine and exposes
// the interactive surface: status, confirm, apply-feedback, diff.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yarlson/forge/internal/fsm"
)

// Status is a point-in-time snapshot of a session, safe to render or
// serialize.
type Status struct {
	ID               string            `json:"id"`
	Goal             string            `json:"goal"`
	State            string            `json:"state"`
	Output           map[string]string `json:"output"`
	AvailableActions []string          `json:"availableActions"`
	IsCompleted      bool              `json:"isCompleted"`
	Error            string            `json:"error,omitempty"`
}

// Session is one goal being driven through its plan. Methods delegate to
// the underlying machine and are safe for concurrent use.
type Session struct {
	id        string
	goal      string
	machine   *fsm.Machine
	logger    *zap.Logger
	createdAt time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Goal returns the session's goal.
func (s *Session) Goal() string { return s.goal }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Status snapshots the session.
func (s *Session) Status() Status {
	status := Status{
		ID:               s.id,
		Goal:             s.goal,
		State:            s.machine.State(),
		Output:           s.machine.Output(),
		AvailableActions: s.machine.AvailableActions(),
		IsCompleted:      s.machine.State() == fsm.StateCompleted,
	}
	if err := s.machine.Err(); err != nil {
		status.Error = err.Error()
	}
	return status
}

// Start runs the first phase.
func (s *Session) Start(ctx context.Context) error {
	s.logger.Info("session starting", zap.String("session_id", s.id), zap.String("goal", s.goal))
	return s.machine.Start(ctx)
}

// Confirm accepts the current phase's output and advances.
func (s *Session) Confirm(ctx context.Context) error {
	return s.machine.Confirm(ctx)
}

// ApplyFeedback refines the current phase's output with human feedback.
func (s *Session) ApplyFeedback(ctx context.Context, feedback string) error {
	return s.machine.ApplyFeedback(ctx, feedback)
}

// Diff renders the accepted file set against a baseline.
func (s *Session) Diff(baseline map[string]string) (string, error) {
	return s.machine.Diff(baseline)
}

// Files returns a copy of the accepted file set.
func (s *Session) Files() map[string]string {
	return s.machine.AcceptedFiles()
}

// IsTerminal reports whether the session reached completed or failed.
func (s *Session) IsTerminal() bool {
	return s.machine.IsTerminal()
}

// Complete drives the session to a terminal state without human review:
// it starts the machine if needed, then confirms every phase in turn.
// The first failed phase surfaces as the returned error.
func (s *Session) Complete(ctx context.Context) error {
	if s.machine.State() != fsm.StateCompleted && s.machine.State() != fsm.StateFailed {
		if err := s.startIfPending(ctx); err != nil {
			return err
		}
	}

	for !s.machine.IsTerminal() {
		if err := s.machine.Confirm(ctx); err != nil {
			return err
		}
	}

	if err := s.machine.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Session) startIfPending(ctx context.Context) error {
	err := s.machine.Start(ctx)
	if err == nil {
		return nil
	}

	// Already past pending: Complete picks up from the current state.
	var invalid *fsm.InvalidTransitionError
	if errors.As(err, &invalid) && !s.machine.IsTerminal() {
		return nil
	}
	return err
}
