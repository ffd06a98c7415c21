package generator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFiles_SingleBlock(t *testing.T) {
	raw := "Here is the file:\n\n```go path=main.go\npackage main\n\nfunc main() {}\n```\nDone.\n"

	files, err := ExtractFiles(raw)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"main.go": "package main\n\nfunc main() {}",
	}, files)
}

func TestExtractFiles_MultipleBlocks(t *testing.T) {
	raw := "```path=a.txt\nhello\n```\n\nand also\n\n```txt path=dir/b.txt\nworld\n```\n"

	files, err := ExtractFiles(raw)
	require.NoError(t, err)

	assert.Len(t, files, 2)
	assert.Equal(t, "hello", files["a.txt"])
	assert.Equal(t, "world", files["dir/b.txt"])
}

func TestExtractFiles_LastBlockWinsForSamePath(t *testing.T) {
	raw := "```path=a.txt\nfirst\n```\n```path=a.txt\nsecond\n```\n"

	files, err := ExtractFiles(raw)
	require.NoError(t, err)
	assert.Equal(t, "second", files["a.txt"])
}

func TestExtractFiles_QuotedPath(t *testing.T) {
	raw := "```go path=\"cmd/app/main.go\"\npackage main\n```\n"

	files, err := ExtractFiles(raw)
	require.NoError(t, err)
	assert.Contains(t, files, "cmd/app/main.go")
}

func TestExtractFiles_IgnoresPlainCodeBlocks(t *testing.T) {
	raw := "Run it like this:\n```sh\ngo run .\n```\n```path=a.txt\ncontent\n```\n"

	files, err := ExtractFiles(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "content"}, files)
}

func TestExtractFiles_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no blocks at all", "I could not generate any files, sorry."},
		{"only plain blocks", "```\nno path here\n```"},
		{"unterminated block", "```path=a.txt\ncontent without closing fence\n"},
		{"empty path", "```path=\ncontent\n```"},
		{"empty response", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractFiles(tt.raw)
			require.Error(t, err)

			var genErr *GenerationError
			assert.True(t, errors.As(err, &genErr))
		})
	}
}

func TestExtractFiles_PreservesInteriorBlankLines(t *testing.T) {
	raw := "```path=a.py\ndef f():\n\n    return 1\n```\n"

	files, err := ExtractFiles(raw)
	require.NoError(t, err)
	assert.Equal(t, "def f():\n\n    return 1", files["a.py"])
}
