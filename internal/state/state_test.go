package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureForgeDir(t *testing.T) {
	t.Run("creates all directories if missing", func(t *testing.T) {
		tmpDir := t.TempDir()

		err := EnsureForgeDir(tmpDir)
		require.NoError(t, err)

		// Verify all expected directories exist
		expectedDirs := []string{
			".forge",
			".forge/logs",
			".forge/sessions",
		}

		for _, dir := range expectedDirs {
			fullPath := filepath.Join(tmpDir, dir)
			info, err := os.Stat(fullPath)
			assert.NoError(t, err, "directory %s should exist", dir)
			assert.True(t, info.IsDir(), "%s should be a directory", dir)
		}
	})

	t.Run("is idempotent - calling twice succeeds", func(t *testing.T) {
		tmpDir := t.TempDir()

		// Call twice
		err := EnsureForgeDir(tmpDir)
		require.NoError(t, err)

		err = EnsureForgeDir(tmpDir)
		require.NoError(t, err)

		// Verify directories still exist
		forgeDir := filepath.Join(tmpDir, ".forge")
		info, err := os.Stat(forgeDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("returns error for invalid root path", func(t *testing.T) {
		// Try to create in a path that doesn't exist
		invalidPath := "/nonexistent/path/that/should/not/exist"

		err := EnsureForgeDir(invalidPath)
		assert.Error(t, err)
	})

	t.Run("works when some directories already exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		// Pre-create some directories
		err := os.MkdirAll(filepath.Join(tmpDir, ".forge", "logs"), 0755)
		require.NoError(t, err)

		err = EnsureForgeDir(tmpDir)
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(tmpDir, ".forge", "sessions"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestForgeDirPath(t *testing.T) {
	t.Run("returns correct path for subdirectory", func(t *testing.T) {
		root := "/some/project"

		assert.Equal(t, "/some/project/.forge", ForgeDirPath(root))
		assert.Equal(t, "/some/project/.forge/logs", LogsDirPath(root))
		assert.Equal(t, "/some/project/.forge/sessions", SessionsDirPath(root))
		assert.Equal(t, "/some/project/.forge/plan.yaml", PlanFilePath(root))
	})
}

func TestLastSessionID(t *testing.T) {
	t.Run("round-trips the stored ID", func(t *testing.T) {
		tmpDir := t.TempDir()
		require.NoError(t, EnsureForgeDir(tmpDir))

		require.NoError(t, SetLastSessionID(tmpDir, "abc-123"))

		id, err := GetLastSessionID(tmpDir)
		require.NoError(t, err)
		assert.Equal(t, "abc-123", id)
	})

	t.Run("returns empty when never set", func(t *testing.T) {
		tmpDir := t.TempDir()
		require.NoError(t, EnsureForgeDir(tmpDir))

		id, err := GetLastSessionID(tmpDir)
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("errors when .forge does not exist", func(t *testing.T) {
		err := SetLastSessionID(t.TempDir(), "abc")
		assert.Error(t, err)
	})
}

func TestWriteSessionFiles(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, EnsureForgeDir(tmpDir))

	dir, err := WriteSessionFiles(tmpDir, "sess-1", map[string]string{
		"main.go":            "package main",
		"internal/api/ap.go": "package api",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "internal", "api", "ap.go"))
	require.NoError(t, err)
	assert.Equal(t, "package api", string(data))
}
