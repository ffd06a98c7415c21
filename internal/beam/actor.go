// Package beam implements the search actor that drives candidate
// generation: it expands a frontier of candidate nodes through generator
// calls, validates every child in its own sandbox, and keeps the top
// scoring survivors up to the configured beam width.
package beam

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yarlson/forge/internal/generator"
	"github.com/yarlson/forge/internal/node"
	"github.com/yarlson/forge/internal/prompt"
	"github.com/yarlson/forge/internal/sandbox"
	"github.com/yarlson/forge/internal/validate"
)

// NoViableCandidateError reports that every child of a frontier expansion
// failed validation. The owning phase decides whether to retry the whole
// expansion or fail the session.
type NoViableCandidateError struct {
	// Phase is the phase whose expansion failed.
	Phase string

	// Attempted is how many children were generated and rejected.
	Attempted int

	// LastFailure is the validation output of the last rejected child,
	// useful as a fix hint on retry.
	LastFailure string
}

// Error implements the error interface.
func (e *NoViableCandidateError) Error() string {
	return fmt.Sprintf("phase %q: no viable candidate among %d children", e.Phase, e.Attempted)
}

// Config bounds one actor's search.
type Config struct {
	// Phase names the owning phase, used in provenance and diagnostics.
	Phase string

	// Instructions is the phase's generation guidance.
	Instructions string

	// Width is the beam width W (>= 1).
	Width int

	// MaxDepth is the maximum search depth D (>= 1).
	MaxDepth int
}

// Recorder receives audit events from the actor. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RecordGeneration(phase, nodeID string, duration time.Duration, err error)
	RecordValidation(phase, nodeID string, result *validate.Result)
}

// Deps carries the actor's collaborators.
type Deps struct {
	Generator *generator.Generator
	Backend   sandbox.Backend
	BaseEnv   string
	Pipeline  validate.Pipeline
	Prompts   *prompt.Builder
	Arena     *node.Arena
	Logger    *zap.Logger
	Recorder  Recorder
	Sandbox   []sandbox.Option
}

// Frontier is the set of surviving candidate indices at the current depth.
// It is replaced wholesale at every expansion, never mutated in place.
type Frontier []int

// Actor runs beam search for one phase. It holds no mutable state between
// calls; the candidate tree lives in the shared arena.
type Actor struct {
	deps Deps
	cfg  Config
}

// New creates an actor. Width and MaxDepth below 1 are raised to 1.
func New(deps Deps, cfg Config) *Actor {
	if cfg.Width < 1 {
		cfg.Width = 1
	}
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Actor{deps: deps, cfg: cfg}
}

// candidate is one validated child awaiting ranking.
type candidate struct {
	index int // arena index
	score int
	depth int
	order int // deterministic insertion order within the expansion
}

// Run searches from the given root until MaxDepth and returns the arena
// index of the best surviving candidate. Feedback, when non-empty, turns
// the first expansion into a single refinement call per parent.
func (a *Actor) Run(ctx context.Context, goal string, root int, feedback, failureHint string) (int, error) {
	frontier := Frontier{root}

	for depth := 1; depth <= a.cfg.MaxDepth; depth++ {
		next, err := a.Expand(ctx, goal, frontier, feedback, failureHint)
		if err != nil {
			return 0, err
		}
		frontier = next
		feedback = ""
		failureHint = ""
	}

	// The frontier is ranked; the head is the accepted candidate.
	return frontier[0], nil
}

// Expand produces the next frontier from the current one: W generator
// calls per parent (a single call when refining under feedback), each
// child validated in its own disposable sandbox before ranking. Children
// that fail validation never enter the next frontier.
func (a *Actor) Expand(ctx context.Context, goal string, frontier Frontier, feedback, failureHint string) (Frontier, error) {
	callsPerParent := a.cfg.Width
	if feedback != "" {
		callsPerParent = 1
	}

	var (
		mu          sync.Mutex
		survivors   []candidate
		attempted   int
		lastFailure string
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for i, parent := range frontier {
		for j := 0; j < callsPerParent; j++ {
			order := i*callsPerParent + j
			parent := parent

			group.Go(func() error {
				cand, failure, err := a.expandChild(groupCtx, goal, parent, order, feedback, failureHint)
				if err != nil {
					return err
				}

				mu.Lock()
				defer mu.Unlock()
				attempted++
				if cand != nil {
					survivors = append(survivors, *cand)
				} else if failure != "" {
					lastFailure = failure
				}
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if len(survivors) == 0 {
		return nil, &NoViableCandidateError{
			Phase:       a.cfg.Phase,
			Attempted:   attempted,
			LastFailure: lastFailure,
		}
	}

	// Validate-before-rank: every survivor passed its pipeline above.
	// Rank by score, then shallower depth, then insertion order.
	sort.Slice(survivors, func(x, y int) bool {
		if survivors[x].score != survivors[y].score {
			return survivors[x].score > survivors[y].score
		}
		if survivors[x].depth != survivors[y].depth {
			return survivors[x].depth < survivors[y].depth
		}
		return survivors[x].order < survivors[y].order
	})

	if len(survivors) > a.cfg.Width {
		survivors = survivors[:a.cfg.Width]
	}

	next := make(Frontier, len(survivors))
	for i, s := range survivors {
		next[i] = s.index
	}

	a.deps.Logger.Debug("frontier expanded",
		zap.String("phase", a.cfg.Phase),
		zap.Int("parents", len(frontier)),
		zap.Int("survivors", len(next)))
	return next, nil
}

// expandChild generates and validates one child. A rejected candidate
// returns (nil, failureOutput, nil); only infrastructure failures and
// cancellation return an error.
func (a *Actor) expandChild(ctx context.Context, goal string, parent, order int, feedback, failureHint string) (*candidate, string, error) {
	parentFiles, err := a.deps.Arena.MergedFiles(parent)
	if err != nil {
		return nil, "", err
	}

	userPrompt, err := a.deps.Prompts.Build(prompt.Context{
		Goal:          goal,
		Phase:         a.cfg.Phase,
		Instructions:  a.cfg.Instructions,
		Files:         parentFiles,
		Feedback:      feedback,
		FailureOutput: failureHint,
	})
	if err != nil {
		return nil, "", fmt.Errorf("building prompt: %w", err)
	}

	req := generator.Request{
		System: a.deps.Prompts.BuildSystemPrompt(),
		Prompt: userPrompt,
	}

	start := time.Now()
	resp, genErr := a.deps.Generator.Generate(ctx, req)
	if a.deps.Recorder != nil {
		a.deps.Recorder.RecordGeneration(a.cfg.Phase, "", time.Since(start), genErr)
	}
	if genErr != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		var generationErr *generator.GenerationError
		if errors.As(genErr, &generationErr) {
			// Retries already exhausted inside the generator; this child
			// is a failed expansion attempt, not a fatal error.
			a.deps.Logger.Warn("child generation failed",
				zap.String("phase", a.cfg.Phase),
				zap.Int("order", order),
				zap.Error(genErr))
			return nil, "", nil
		}
		return nil, "", genErr
	}

	index, err := a.deps.Arena.AddChild(parent, resp.Files, node.Provenance{
		Prompt:      userPrompt,
		RawResponse: resp.RawText,
		Phase:       a.cfg.Phase,
	})
	if err != nil {
		return nil, "", err
	}
	child, err := a.deps.Arena.Get(index)
	if err != nil {
		return nil, "", err
	}

	result, err := a.validateChild(ctx, parentFiles, resp.Files)
	if a.deps.Recorder != nil && result != nil {
		a.deps.Recorder.RecordValidation(a.cfg.Phase, child.ID(), result)
	}
	if err != nil {
		return nil, "", err
	}

	if !result.Passed {
		var failureOutput string
		if failure := result.Failure(); failure != nil {
			failureOutput = failure.Output
		}
		return nil, failureOutput, nil
	}

	return &candidate{
		index: index,
		score: result.Score,
		depth: child.Depth(),
		order: order,
	}, "", nil
}

// validateChild runs the phase pipeline against the child's merged file
// set in a fresh sandbox. The sandbox is torn down unconditionally.
func (a *Actor) validateChild(ctx context.Context, parentFiles, childFiles map[string]string) (*validate.Result, error) {
	files := make(map[string]string, len(parentFiles)+len(childFiles))
	for k, v := range parentFiles {
		files[k] = v
	}
	for k, v := range childFiles {
		files[k] = v
	}

	sb, err := sandbox.New(ctx, a.deps.Backend, a.deps.BaseEnv, files, a.deps.Sandbox...)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Teardown must happen even when the phase was cancelled.
		_ = sb.Destroy(context.WithoutCancel(ctx))
	}()

	return a.deps.Pipeline.Run(ctx, sb)
}
