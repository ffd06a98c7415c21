// Package state manages the .forge directory structure and state files.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Directory names for the .forge structure.
const (
	ForgeDir    = ".forge"
	LogsDir     = "logs"
	SessionsDir = "sessions"
	PlanFile    = "plan.yaml"
)

// ForgeDirPath returns the path to the .forge directory.
func ForgeDirPath(root string) string {
	return filepath.Join(root, ForgeDir)
}

// LogsDirPath returns the path to the audit logs directory.
func LogsDirPath(root string) string {
	return filepath.Join(root, ForgeDir, LogsDir)
}

// SessionsDirPath returns the path to the sessions directory, where
// accepted file sets are materialized.
func SessionsDirPath(root string) string {
	return filepath.Join(root, ForgeDir, SessionsDir)
}

// PlanFilePath returns the path to the phase plan file.
func PlanFilePath(root string) string {
	return filepath.Join(root, ForgeDir, PlanFile)
}

// EnsureForgeDir creates the .forge directory structure if it doesn't exist.
// It creates the following directories:
//   - .forge/
//   - .forge/logs/
//   - .forge/sessions/
//
// The function is idempotent - calling it multiple times is safe.
// All directories are created with 0755 permissions (rwxr-xr-x).
func EnsureForgeDir(root string) error {
	// Verify root exists
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return fmt.Errorf("root directory does not exist: %s", root)
	}

	dirs := []string{
		ForgeDirPath(root),
		LogsDirPath(root),
		SessionsDirPath(root),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LastSessionFilePath returns the path to the stored last session ID file.
func LastSessionFilePath(root string) string {
	return filepath.Join(root, ForgeDir, "last-session")
}

// GetLastSessionID reads the stored last session ID.
// Returns empty string if the file doesn't exist.
func GetLastSessionID(root string) (string, error) {
	data, err := os.ReadFile(LastSessionFilePath(root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading last session ID: %w", err)
	}
	return string(data), nil
}

// SetLastSessionID writes the last session ID.
func SetLastSessionID(root string, sessionID string) error {
	forgeDir := ForgeDirPath(root)
	if _, err := os.Stat(forgeDir); os.IsNotExist(err) {
		return fmt.Errorf(".forge directory does not exist")
	}

	if err := os.WriteFile(LastSessionFilePath(root), []byte(sessionID), 0644); err != nil {
		return fmt.Errorf("writing last session ID: %w", err)
	}
	return nil
}

// WriteSessionFiles materializes a session's accepted file set under
// .forge/sessions/{id}/, creating parent directories for nested paths.
func WriteSessionFiles(root, sessionID string, files map[string]string) (string, error) {
	dir := filepath.Join(SessionsDirPath(root), sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	for path, content := range files {
		dest := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	return dir, nil
}
