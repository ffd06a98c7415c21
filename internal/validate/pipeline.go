// Package validate runs a candidate's validation pipeline inside a sandbox:
// a fixed ordered sequence of commands (install, build, typecheck, test)
// that short-circuits on the first failure and yields a score for ranking.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yarlson/forge/internal/sandbox"
)

// Stage is one step of a validation pipeline.
type Stage struct {
	// Name identifies the stage in diagnostics (e.g., "install", "test").
	Name string `json:"name"`

	// Command is the command to execute.
	Command []string `json:"command"`

	// Weight is the stage's contribution to the validation score when it
	// passes. Later stages carry more weight so candidates that got further
	// rank higher.
	Weight int `json:"weight"`
}

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Name     string        `json:"name"`
	Command  []string      `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
	Passed   bool          `json:"passed"`
}

// Result is the outcome of running a full pipeline against one candidate.
type Result struct {
	// Passed is true when every stage exited cleanly.
	Passed bool `json:"passed"`

	// FailedStage names the stage that short-circuited the pipeline, empty
	// when all stages passed.
	FailedStage string `json:"failed_stage,omitempty"`

	// Stages holds per-stage results, in execution order, up to and
	// including the failed stage.
	Stages []StageResult `json:"stages"`

	// Score is the sum of the weights of the passed stages.
	Score int `json:"score"`
}

// CommandError reports a candidate command that exited non-zero or timed
// out. It is a validation rejection, never retried.
type CommandError struct {
	Stage    string
	ExitCode int
	Output   string
	TimedOut bool
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("stage %q timed out", e.Stage)
	}
	return fmt.Sprintf("stage %q failed with exit code %d", e.Stage, e.ExitCode)
}

// Pipeline is an ordered validation sequence applied to every candidate of
// a phase.
type Pipeline struct {
	// Stages run in order; the pipeline short-circuits on the first failure.
	Stages []Stage

	// StageTimeout bounds each stage's execution. Zero means no limit
	// beyond the context.
	StageTimeout time.Duration

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewPipeline builds a pipeline from raw command lists. Stage names derive
// from the command's base name and weights increase with position, so
// passing a later stage always outranks passing only earlier ones.
func NewPipeline(commands [][]string, stageTimeout time.Duration) Pipeline {
	stages := make([]Stage, 0, len(commands))
	for i, cmd := range commands {
		name := fmt.Sprintf("stage-%d", i+1)
		if len(cmd) > 0 {
			name = strings.Join(cmd[:min(len(cmd), 2)], " ")
		}
		stages = append(stages, Stage{Name: name, Command: cmd, Weight: i + 1})
	}
	return Pipeline{Stages: stages, StageTimeout: stageTimeout}
}

// Run executes the pipeline in the given sandbox. A failing command is
// recorded in the result, not returned as an error; the error return is
// reserved for infrastructure failures and cancellation.
func (p Pipeline) Run(ctx context.Context, sb *sandbox.Sandbox) (*Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	result := &Result{Passed: true}

	for _, stage := range p.Stages {
		execResult, err := sb.Exec(ctx, stage.Command, "", p.StageTimeout)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, err)
		}

		stageResult := StageResult{
			Name:     stage.Name,
			Command:  stage.Command,
			ExitCode: execResult.ExitCode,
			Output:   combinedOutput(execResult),
			TimedOut: execResult.TimedOut,
			Duration: execResult.Duration,
			Passed:   execResult.Success(),
		}
		result.Stages = append(result.Stages, stageResult)

		if !stageResult.Passed {
			result.Passed = false
			result.FailedStage = stage.Name
			logger.Debug("validation stage failed",
				zap.String("stage", stage.Name),
				zap.Int("exit_code", execResult.ExitCode),
				zap.Bool("timed_out", execResult.TimedOut))
			return result, nil
		}

		result.Score += stage.Weight
	}

	return result, nil
}

// Failure returns the CommandError for a failed result, or nil if the
// result passed.
func (r *Result) Failure() *CommandError {
	if r.Passed || len(r.Stages) == 0 {
		return nil
	}
	last := r.Stages[len(r.Stages)-1]
	return &CommandError{
		Stage:    last.Name,
		ExitCode: last.ExitCode,
		Output:   last.Output,
		TimedOut: last.TimedOut,
	}
}

func combinedOutput(r *sandbox.ExecResult) string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}
