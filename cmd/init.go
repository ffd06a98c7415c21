package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yarlson/forge/internal/plan"
	"github.com/yarlson/forge/internal/state"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the .forge directory",
		Long:  "Create the .forge directory structure and write the default phase plan.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing plan file")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if err := state.EnsureForgeDir(workDir); err != nil {
		return fmt.Errorf("failed to create .forge directory: %w", err)
	}

	planPath := state.PlanFilePath(workDir)
	if _, err := os.Stat(planPath); err == nil && !force {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Plan already exists at %s (use --force to overwrite)\n", planPath)
		return nil
	}

	data, err := yaml.Marshal(plan.Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default plan: %w", err)
	}
	if err := os.WriteFile(planPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Initialized .forge with default plan at %s\n", planPath)
	return nil
}
