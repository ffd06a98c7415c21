package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yarlson/forge/internal/config"
	"github.com/yarlson/forge/internal/plan"
)

func newPlanCmd() *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the effective phase plan",
		Long:  "Print the phase plan that a run would use, after validation and defaulting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, planPath)
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "", "phase plan file (default: .forge/plan.yaml)")

	return cmd
}

func runPlan(cmd *cobra.Command, planPath string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if planPath == "" {
		planPath = filepath.Join(workDir, cfg.Plan.Path)
	}
	p, err := plan.LoadOrDefault(planPath)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprint(out, string(data))

	units := p.Units()
	_, _ = fmt.Fprintf(out, "\n%d execution unit(s):\n", len(units))
	for i, unit := range units {
		names := make([]string, 0, len(unit))
		for _, phase := range unit {
			names = append(names, phase.Name)
		}
		_, _ = fmt.Fprintf(out, "  %d. %s\n", i+1, strings.Join(names, " + "))
	}
	return nil
}
