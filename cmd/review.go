package cmd

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yarlson/forge/internal/session"
)

// reviewLoop drives the session interactively: after each phase the user
// confirms, applies feedback, inspects a diff, or quits. Returning with a
// non-terminal session means the user quit early.
func reviewLoop(cmd *cobra.Command, s *session.Session) error {
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	if err := s.Start(cmd.Context()); err != nil {
		return err
	}

	for !s.IsTerminal() {
		status := s.Status()
		_, _ = fmt.Fprintf(out, "Phase state: %s\n", status.State)
		printOutput(out, status)

		_, _ = fmt.Fprint(out, "[c]onfirm  [f]eedback  [d]iff  [q]uit > ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "c", "confirm", "":
			if err := s.Confirm(cmd.Context()); err != nil {
				return err
			}
		case "f", "feedback":
			_, _ = fmt.Fprint(out, "feedback > ")
			feedback, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read feedback: %w", err)
			}
			feedback = strings.TrimSpace(feedback)
			if feedback == "" {
				_, _ = fmt.Fprintln(out, "empty feedback ignored")
				continue
			}
			if err := s.ApplyFeedback(cmd.Context(), feedback); err != nil {
				return err
			}
		case "d", "diff":
			diff, err := s.Diff(nil)
			if err != nil {
				return err
			}
			if diff == "" {
				diff = "(no changes)"
			}
			_, _ = fmt.Fprintln(out, diff)
		case "q", "quit":
			_, _ = fmt.Fprintln(out, "Leaving session unconfirmed.")
			return nil
		default:
			_, _ = fmt.Fprintln(out, "unknown choice")
		}
	}

	if status := s.Status(); status.Error != "" {
		return fmt.Errorf("session failed: %s", status.Error)
	}
	return nil
}

func printOutput(out io.Writer, status session.Status) {
	if len(status.Output) == 0 {
		return
	}

	paths := make([]string, 0, len(status.Output))
	for p := range status.Output {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	_, _ = fmt.Fprintf(out, "Accepted files (%d):\n", len(paths))
	for _, p := range paths {
		_, _ = fmt.Fprintf(out, "  %s\n", p)
	}
	_, _ = fmt.Fprintln(out)
}
