// Package fsm implements the phase state machine: it sequences beam
// search actors through the plan's phases, runs fan-out groups
// concurrently, and exposes the confirm / apply-feedback / diff surface.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yarlson/forge/internal/audit"
	"github.com/yarlson/forge/internal/beam"
	"github.com/yarlson/forge/internal/fsdiff"
	"github.com/yarlson/forge/internal/generator"
	"github.com/yarlson/forge/internal/node"
	"github.com/yarlson/forge/internal/plan"
	"github.com/yarlson/forge/internal/prompt"
	"github.com/yarlson/forge/internal/sandbox"
	"github.com/yarlson/forge/internal/validate"
)

// Step is the within-phase progress of the machine.
type Step string

// Valid steps. Completed and failed are terminal and not phase-scoped.
const (
	StepPending  Step = "pending"
	StepRunning  Step = "running"
	StepAwaiting Step = "awaiting_confirmation"
)

// Terminal states.
const (
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Actions reported by AvailableActions.
const (
	ActionStart    = "start"
	ActionConfirm  = "confirm"
	ActionFeedback = "apply-feedback"
	ActionDiff     = "diff"
)

// InvalidTransitionError reports an action issued from a state that does
// not permit it. The machine state is unchanged.
type InvalidTransitionError struct {
	State  string
	Action string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s from state %q", e.Action, e.State)
}

// OutputTruncateAt is the content size above which Output replaces file
// contents with a placeholder.
const OutputTruncateAt = 2048

// Config tunes the machine.
type Config struct {
	// ExpansionRetries is how many times a phase re-runs a whole
	// expansion after NoViableCandidate before failing the session.
	ExpansionRetries int

	// StageTimeout bounds each validation stage.
	StageTimeout time.Duration
}

// DefaultConfig returns the default machine configuration: one expansion
// retry, as a failed frontier usually carries a useful fix hint.
func DefaultConfig() Config {
	return Config{ExpansionRetries: 1}
}

// Deps carries the machine's collaborators. Audit may be nil.
type Deps struct {
	Generator *generator.Generator
	Backend   sandbox.Backend
	BaseEnv   string
	Prompts   *prompt.Builder
	Arena     *node.Arena
	Logger    *zap.Logger
	Audit     *audit.Log
	Sandbox   []sandbox.Option
}

// Machine sequences one session through its plan.
type Machine struct {
	goal  string
	plan  *plan.Plan
	units [][]plan.Phase
	deps  Deps
	cfg   Config

	mu        sync.Mutex
	unitIndex int
	step      Step
	terminal  string
	files     map[string]string
	accepted  map[string]int
	lastErr   error
}

// New creates a machine over a validated plan. The machine starts in the
// first phase's pending state; call Start to begin generation.
func New(goal string, p *plan.Plan, deps Deps, cfg Config) (*Machine, error) {
	if goal == "" {
		return nil, errors.New("goal is required")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	for _, phase := range p.Phases {
		if phase.Width < 1 || phase.MaxDepth < 1 {
			return nil, fmt.Errorf("phase %q: width and maxDepth must be set", phase.Name)
		}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Arena == nil {
		deps.Arena = node.NewArena()
	}

	return &Machine{
		goal:     goal,
		plan:     p,
		units:    p.Units(),
		deps:     deps,
		cfg:      cfg,
		step:     StepPending,
		files:    make(map[string]string),
		accepted: make(map[string]int),
	}, nil
}

// State returns the current state as "{phase}.{step}", or a terminal
// state name.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() string {
	if m.terminal != "" {
		return m.terminal
	}
	return m.unitName(m.unitIndex) + "." + string(m.step)
}

// unitName is the phase name for single-phase units and the group name
// for fan-out units.
func (m *Machine) unitName(index int) string {
	unit := m.units[index]
	if len(unit) == 1 || unit[0].Group == "" {
		return unit[0].Name
	}
	return unit[0].Group
}

// IsTerminal reports whether the machine reached completed or failed.
func (m *Machine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal != ""
}

// Err returns the most recent error, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// AvailableActions lists the actions valid in the current state.
func (m *Machine) AvailableActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.terminal != "":
		return nil
	case m.step == StepPending:
		return []string{ActionStart}
	case m.step == StepAwaiting:
		return []string{ActionConfirm, ActionFeedback, ActionDiff}
	default:
		return []string{ActionDiff}
	}
}

// AcceptedFiles returns a copy of the currently accepted file set.
func (m *Machine) AcceptedFiles() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := make(map[string]string, len(m.files))
	for k, v := range m.files {
		files[k] = v
	}
	return files
}

// Output returns the accepted file set with large contents replaced by a
// placeholder, for status display.
func (m *Machine) Output() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	output := make(map[string]string, len(m.files))
	for k, v := range m.files {
		if len(v) > OutputTruncateAt {
			output[k] = "large file truncated"
			continue
		}
		output[k] = v
	}
	return output
}

// beginRun atomically validates that the machine can leave fromStep and
// marks the current unit running.
func (m *Machine) beginRun(action string, fromStep Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal != "" || m.step != fromStep {
		return &InvalidTransitionError{State: m.stateLocked(), Action: action}
	}

	from := m.stateLocked()
	m.step = StepRunning
	m.deps.Audit.RecordTransition(from, m.stateLocked())
	return nil
}

// Start runs the first phase. Valid only before any phase has run.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.unitIndex != 0 {
		defer m.mu.Unlock()
		return &InvalidTransitionError{State: m.stateLocked(), Action: ActionStart}
	}
	m.mu.Unlock()

	if err := m.beginRun(ActionStart, StepPending); err != nil {
		return err
	}
	return m.runUnit(ctx, "")
}

// Confirm accepts the current phase's output and advances to the next
// phase, running it; after the last phase it reaches the completed state.
// Valid only from awaiting confirmation.
func (m *Machine) Confirm(ctx context.Context) error {
	m.mu.Lock()
	if m.terminal != "" || m.step != StepAwaiting {
		defer m.mu.Unlock()
		return &InvalidTransitionError{State: m.stateLocked(), Action: ActionConfirm}
	}

	if m.unitIndex == len(m.units)-1 {
		from := m.stateLocked()
		m.terminal = StateCompleted
		m.mu.Unlock()
		m.deps.Audit.RecordTransition(from, StateCompleted)
		return nil
	}

	from := m.stateLocked()
	m.unitIndex++
	m.step = StepRunning
	to := m.stateLocked()
	m.mu.Unlock()
	m.deps.Audit.RecordTransition(from, to)

	return m.runUnit(ctx, "")
}

// ApplyFeedback re-invokes the current phase's actors with the feedback
// attached; the refined candidate must pass validation again before the
// machine re-enters awaiting confirmation. Valid only from awaiting
// confirmation.
func (m *Machine) ApplyFeedback(ctx context.Context, feedback string) error {
	if err := m.beginRun(ActionFeedback, StepAwaiting); err != nil {
		return err
	}
	return m.runUnit(ctx, feedback)
}

// Diff renders the difference between the accepted file set and the
// caller-supplied baseline. It is a pure read, valid in any state where
// at least one phase has started.
func (m *Machine) Diff(baseline map[string]string) (string, error) {
	m.mu.Lock()
	if m.terminal == "" && m.unitIndex == 0 && m.step == StepPending {
		defer m.mu.Unlock()
		return "", &InvalidTransitionError{State: m.stateLocked(), Action: ActionDiff}
	}
	current := make(map[string]string, len(m.files))
	for k, v := range m.files {
		current[k] = v
	}
	m.mu.Unlock()

	return fsdiff.Unified(baseline, current), nil
}

// runUnit executes every phase of the current unit, concurrently for
// fan-out groups. The caller has already marked the unit running. The
// machine advances only when all siblings produced an accepted candidate;
// a single sibling failure fails the session and no sibling output is
// exposed.
func (m *Machine) runUnit(ctx context.Context, feedback string) error {
	m.mu.Lock()
	unit := m.units[m.unitIndex]
	base := make(map[string]string, len(m.files))
	for k, v := range m.files {
		base[k] = v
	}
	m.mu.Unlock()

	results := make([]int, len(unit))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, phase := range unit {
		i, phase := i, phase
		group.Go(func() error {
			accepted, err := m.runPhase(groupCtx, phase, base, feedback)
			if err != nil {
				return fmt.Errorf("phase %q: %w", phase.Name, err)
			}
			results[i] = accepted
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		m.mu.Lock()
		from := m.stateLocked()
		m.terminal = StateFailed
		m.lastErr = err
		m.mu.Unlock()
		m.deps.Audit.RecordTransition(from, StateFailed)
		m.deps.Logger.Error("unit failed", zap.String("unit", m.unitName(m.unitIndex)), zap.Error(err))
		return err
	}

	// Merge sibling outputs in declared order; later siblings win path
	// conflicts, which is deterministic by construction.
	merged := base
	for i, phase := range unit {
		files, err := m.deps.Arena.MergedFiles(results[i])
		if err != nil {
			m.mu.Lock()
			from := m.stateLocked()
			m.terminal = StateFailed
			m.lastErr = err
			m.mu.Unlock()
			m.deps.Audit.RecordTransition(from, StateFailed)
			return err
		}
		for k, v := range files {
			merged[k] = v
		}
		m.mu.Lock()
		m.accepted[phase.Name] = results[i]
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.files = merged
	m.lastErr = nil
	from := m.stateLocked()
	m.step = StepAwaiting
	to := m.stateLocked()
	m.mu.Unlock()
	m.deps.Audit.RecordTransition(from, to)

	return nil
}

// runPhase runs one phase's beam search from a fresh root seeded with the
// accepted base file set, retrying the whole expansion on
// NoViableCandidate up to the configured bound.
func (m *Machine) runPhase(ctx context.Context, phase plan.Phase, base map[string]string, feedback string) (int, error) {
	root := m.deps.Arena.AddRoot(base, node.Provenance{Phase: phase.Name})

	pipeline := validate.NewPipeline(phase.Verify, m.cfg.StageTimeout)
	pipeline.Logger = m.deps.Logger

	actor := beam.New(beam.Deps{
		Generator: m.deps.Generator,
		Backend:   m.deps.Backend,
		BaseEnv:   m.deps.BaseEnv,
		Pipeline:  pipeline,
		Prompts:   m.deps.Prompts,
		Arena:     m.deps.Arena,
		Logger:    m.deps.Logger,
		Recorder:  m.deps.Audit,
		Sandbox:   m.deps.Sandbox,
	}, beam.Config{
		Phase:        phase.Name,
		Instructions: phase.Instructions,
		Width:        phase.Width,
		MaxDepth:     phase.MaxDepth,
	})

	var failureHint string
	attempts := m.cfg.ExpansionRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		accepted, err := actor.Run(ctx, m.goal, root, feedback, failureHint)
		if err == nil {
			return accepted, nil
		}

		var noViable *beam.NoViableCandidateError
		if !errors.As(err, &noViable) || attempt == attempts {
			return 0, err
		}

		failureHint = noViable.LastFailure
		m.deps.Logger.Warn("expansion failed, retrying",
			zap.String("phase", phase.Name),
			zap.Int("attempt", attempt),
			zap.Int("attempted_children", noViable.Attempted))
	}

	// Unreachable: the loop always returns.
	return 0, errors.New("expansion retry loop exited unexpectedly")
}
