// Package generator wraps a text completion capability and extracts
// generated file sets from the model output. Prompt construction and the
// completion transport are pluggable; the generator owns retry of
// malformed responses.
package generator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Request is a structured prompt for one completion call.
type Request struct {
	// System is the system prompt carrying the output contract.
	System string

	// Prompt is the user prompt.
	Prompt string
}

// Response is the parsed outcome of one generation.
type Response struct {
	// Files maps relative path to generated content.
	Files map[string]string

	// RawText is the unparsed model output, kept for provenance.
	RawText string
}

// Completion is the abstract completion capability the engine consumes.
// Implementations wrap a concrete provider (OpenAI, a local script, a
// canned fixture) behind a single call.
type Completion interface {
	// Complete returns the raw model output for the given request.
	Complete(ctx context.Context, req Request) (string, error)
}

// GenerationError indicates the model produced malformed or unparseable
// output. It is retried a small bounded number of times with the same
// prompt before surfacing.
type GenerationError struct {
	// Reason describes what was wrong with the output.
	Reason string

	// Raw is the offending model output.
	Raw string
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

// DefaultMaxRetries is the default number of same-prompt retries after a
// malformed response.
const DefaultMaxRetries = 2

// Generator issues completion calls and parses file blocks out of the
// response. It is stateless between calls and safe for concurrent use.
type Generator struct {
	completion Completion
	maxRetries int
	logger     *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxRetries overrides the malformed-response retry bound.
func WithMaxRetries(n int) Option {
	return func(g *Generator) { g.maxRetries = n }
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// New creates a Generator over the given completion capability.
func New(completion Completion, opts ...Option) *Generator {
	g := &Generator{
		completion: completion,
		maxRetries: DefaultMaxRetries,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate issues one completion call and extracts the generated files.
// Transport errors propagate immediately; malformed output is retried with
// the same prompt up to the configured bound, then returned as a
// *GenerationError.
func (g *Generator) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := g.completion.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("completion call: %w", err)
		}

		files, err := ExtractFiles(raw)
		if err == nil {
			return &Response{Files: files, RawText: raw}, nil
		}

		lastErr = err
		g.logger.Debug("malformed generation, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, lastErr
}
