// Package prompt assembles generation prompts for the forge engine. Prompt
// content is deterministic: the same context always yields the same text.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Context carries everything a phase prompt is built from.
type Context struct {
	// Goal is the user's application goal.
	Goal string

	// Phase is the name of the phase being generated.
	Phase string

	// Instructions is the phase's generation guidance from the plan.
	Instructions string

	// Files is the accepted upstream file set the phase builds on.
	Files map[string]string

	// Feedback is optional human feedback for a refinement round.
	Feedback string

	// FailureOutput is trimmed validation output from a prior rejected
	// candidate, included so the model can fix rather than regenerate.
	FailureOutput string
}

// SizeOptions bounds the prompt components.
type SizeOptions struct {
	// MaxFileBytes caps each included file's content.
	MaxFileBytes int

	// MaxFailureBytes caps the failure output section.
	MaxFailureBytes int
}

// DefaultSizeOptions returns sensible default size bounds.
func DefaultSizeOptions() SizeOptions {
	return SizeOptions{
		MaxFileBytes:    8000,
		MaxFailureBytes: 2000,
	}
}

// Builder builds system and user prompts.
type Builder struct {
	opts SizeOptions
}

// NewBuilder creates a Builder with the given size options.
func NewBuilder(opts SizeOptions) *Builder {
	return &Builder{opts: opts}
}

// BuildSystemPrompt returns the system prompt carrying the file-block
// output contract.
func (b *Builder) BuildSystemPrompt() string {
	return `You are a code generation engine. You produce complete, working files.

## Output Contract
Emit every generated file as a fenced code block whose info line carries the target path:

` + "```" + `go path=src/main.go
package main
` + "```" + `

Rules:
1. Every file must be complete - no elisions, no "rest unchanged" markers.
2. Use relative paths.
3. Emit at least one file block. Prose outside file blocks is ignored.
4. Do not emit fenced blocks without a path marker unless they are commentary.
`
}

// Build renders the user prompt for the given context.
func (b *Builder) Build(ctx Context) (string, error) {
	if ctx.Goal == "" {
		return "", errors.New("goal is required")
	}

	var sb strings.Builder

	_, _ = fmt.Fprintf(&sb, "## Goal\n\n%s\n\n", ctx.Goal)

	if ctx.Phase != "" {
		_, _ = fmt.Fprintf(&sb, "## Phase: %s\n\n", ctx.Phase)
	}
	if ctx.Instructions != "" {
		sb.WriteString(ctx.Instructions)
		sb.WriteString("\n\n")
	}

	if len(ctx.Files) > 0 {
		sb.WriteString("## Current Files\n\n")
		sb.WriteString("These files are already accepted. Build on them; regenerate a file only if it must change.\n\n")

		paths := make([]string, 0, len(ctx.Files))
		for p := range ctx.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		for _, p := range paths {
			content := truncateWithMarker(ctx.Files[p], b.opts.MaxFileBytes)
			_, _ = fmt.Fprintf(&sb, "```path=%s\n%s\n```\n\n", p, content)
		}
	}

	if ctx.FailureOutput != "" {
		sb.WriteString("## Previous Attempt Failed Validation\n\n")
		sb.WriteString("```\n")
		sb.WriteString(truncateWithMarker(ctx.FailureOutput, b.opts.MaxFailureBytes))
		sb.WriteString("\n```\n\n")
		sb.WriteString("Fix the failure. Make minimal changes; do not add features.\n\n")
	}

	if ctx.Feedback != "" {
		sb.WriteString("## User Feedback\n\n")
		sb.WriteString(ctx.Feedback)
		sb.WriteString("\n\n")
		sb.WriteString("Apply this feedback to the current files. Emit only the files that change.\n\n")
	}

	return sb.String(), nil
}

// truncateWithMarker truncates s to max bytes, appending a marker when
// content was dropped. A non-positive max disables truncation.
func truncateWithMarker(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n... [truncated]"
}
