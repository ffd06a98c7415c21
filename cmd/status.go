package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yarlson/forge/internal/audit"
	"github.com/yarlson/forge/internal/config"
	"github.com/yarlson/forge/internal/state"
)

func newStatusCmd() *cobra.Command {
	var sessionID string
	var tail int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the audit trail of a session",
		Long:  "Print the recorded events of the last session, or of an explicit --session ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, sessionID, tail)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (default: the last session)")
	cmd.Flags().IntVar(&tail, "tail", 20, "show only the last N events (0 shows all)")

	return cmd
}

func runStatus(cmd *cobra.Command, sessionID string, tail int) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if sessionID == "" {
		sessionID, err = state.GetLastSessionID(workDir)
		if err != nil {
			return err
		}
		if sessionID == "" {
			return fmt.Errorf("no session recorded yet; run forge first")
		}
	}

	events, err := audit.ReadEvents(filepath.Join(workDir, cfg.Audit.Dir), sessionID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Session %s: %d event(s)\n", sessionID, len(events))

	if tail > 0 && len(events) > tail {
		events = events[len(events)-tail:]
	}

	for _, event := range events {
		line := fmt.Sprintf("%s  %-12s", event.Time.Format("15:04:05"), event.Type)
		if event.Phase != "" {
			line += "  phase=" + event.Phase
		}
		if from, ok := event.Detail["from"].(string); ok {
			if to, ok := event.Detail["to"].(string); ok {
				line += fmt.Sprintf("  %s -> %s", from, to)
			}
		}
		if failed, ok := event.Detail["failed_stage"].(string); ok && failed != "" {
			line += "  failed_stage=" + failed
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}
