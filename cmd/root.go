package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/yarlson/forge/internal/config"
	"github.com/yarlson/forge/internal/generator"
	"github.com/yarlson/forge/internal/plan"
	"github.com/yarlson/forge/internal/sandbox"
	"github.com/yarlson/forge/internal/session"
	"github.com/yarlson/forge/internal/state"
)

var cfgFile string

// GetConfigFile returns the config file path from the flag.
func GetConfigFile() string {
	return cfgFile
}

// Root command flags
var (
	rootPlanPath  string
	rootProvider  string
	rootModel     string
	rootResponses string
	rootYes       bool
	rootOut       string
	rootVerbose   bool
)

// NewRootCmd creates the root command for the forge CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forge [goal]",
		Short: "Generate-and-verify engine for LLM-produced code",
		Long: `Forge drives an LLM through a phased plan: generate candidate file
sets with beam search, validate each candidate in a sandbox, and stop
for human review at every phase boundary.

Provide the goal as the single argument:
  forge "a REST service that stores bookmarks"`,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE:         runRoot,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./forge.yaml)")
	rootCmd.Flags().StringVar(&rootPlanPath, "plan", "", "phase plan file (default: .forge/plan.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootProvider, "provider", "", "completion provider (openai or static)")
	rootCmd.Flags().StringVar(&rootModel, "model", "", "model override for the openai provider")
	rootCmd.Flags().StringVar(&rootResponses, "responses", "", "canned responses file for the static provider")
	rootCmd.Flags().BoolVarP(&rootYes, "yes", "y", false, "confirm every phase without prompting")
	rootCmd.Flags().StringVar(&rootOut, "out", "", "write accepted files to this directory instead of .forge/sessions")
	rootCmd.Flags().BoolVarP(&rootVerbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newStatusCmd())

	return rootCmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	goal := strings.TrimSpace(args[0])
	if goal == "" {
		return errors.New("goal must not be empty")
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if rootModel != "" {
		cfg.Generator.Model = rootModel
	}

	planPath := rootPlanPath
	if planPath == "" {
		planPath = filepath.Join(workDir, cfg.Plan.Path)
	}
	p, err := plan.LoadOrDefault(planPath)
	if err != nil {
		return err
	}

	completion, err := buildCompletion(cfg)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if rootVerbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()
	}

	if err := state.EnsureForgeDir(workDir); err != nil {
		return fmt.Errorf("failed to create .forge directory: %w", err)
	}

	manager, err := session.NewManager(session.ManagerDeps{
		Completion: completion,
		Backend:    sandbox.NewLocalBackend(),
		Config:     cfg,
		Logger:     logger,
		AuditDir:   filepath.Join(workDir, cfg.Audit.Dir),
	})
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	s, err := manager.Create(goal, p)
	if err != nil {
		return err
	}
	if err := state.SetLastSessionID(workDir, s.ID()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Session %s\nGoal: %s\n\n", s.ID(), goal)

	autoConfirm := rootYes || !isTerminal(cmd.InOrStdin())
	if autoConfirm {
		if err := s.Complete(cmd.Context()); err != nil {
			return err
		}
	} else {
		if err := reviewLoop(cmd, s); err != nil {
			return err
		}
		if !s.Status().IsCompleted {
			// Review loop exited early; leave the session as-is.
			return nil
		}
	}

	return writeAccepted(cmd, workDir, s)
}

// buildCompletion picks the completion provider from flags and config.
func buildCompletion(cfg *config.Config) (generator.Completion, error) {
	provider, err := generator.ResolveProvider(rootProvider, cfg.Generator.Provider)
	if err != nil {
		return nil, err
	}

	switch provider {
	case generator.ProviderStatic:
		if rootResponses == "" {
			return nil, errors.New("the static provider requires --responses")
		}
		return loadStaticResponses(rootResponses)
	default:
		apiKey := os.Getenv(cfg.Generator.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%s is not set", cfg.Generator.APIKeyEnv)
		}
		return generator.NewOpenAIClient(apiKey, cfg.Generator.Model)
	}
}

// loadStaticResponses reads a canned responses file. Responses are
// separated by a line containing only "---".
func loadStaticResponses(path string) (*generator.StaticCompletion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read responses file: %w", err)
	}

	var responses []string
	for _, chunk := range strings.Split(string(data), "\n---\n") {
		if strings.TrimSpace(chunk) != "" {
			responses = append(responses, chunk)
		}
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("no responses found in %s", path)
	}

	completion := generator.NewStaticCompletion(responses...)
	completion.Repeat = true
	return completion, nil
}

// writeAccepted materializes the session's accepted file set.
func writeAccepted(cmd *cobra.Command, workDir string, s *session.Session) error {
	files := s.Files()
	out := cmd.OutOrStdout()

	if rootOut != "" {
		if err := writeFilesTo(rootOut, files); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "✓ Wrote %d file(s) to %s\n", len(files), rootOut)
		return nil
	}

	dir, err := state.WriteSessionFiles(workDir, s.ID(), files)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "✓ Wrote %d file(s) to %s\n", len(files), dir)
	return nil
}

func writeFilesTo(dir string, files map[string]string) error {
	for path, content := range files {
		dest := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// isTerminal checks if the reader is a terminal.
func isTerminal(r io.Reader) bool {
	if f, ok := r.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
