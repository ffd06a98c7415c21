package generator

import (
	"bufio"
	"strings"
)

// File blocks are fenced code blocks whose info line carries the target
// path:
//
//	```go path=src/main.go
//	package main
//	```
//
// Anything outside file blocks is commentary and ignored. A response with
// no file blocks, an unterminated block, or a block without a path is a
// GenerationError.

const pathMarker = "path="

// ExtractFiles parses all file blocks out of raw model output. When the
// same path appears more than once, the last block wins: the model revised
// its own output within one response.
func ExtractFiles(raw string) (map[string]string, error) {
	files := make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		inBlock bool
		path    string
		content []string
	)

	for scanner.Scan() {
		line := scanner.Text()

		if !inBlock {
			if !strings.HasPrefix(line, "```") {
				continue
			}
			p, ok := parseInfoLine(line)
			if !ok {
				// A fenced block without a path marker is commentary
				// (e.g., an example snippet); skip to its closing fence.
				if err := skipPlainBlock(scanner); err != nil {
					return nil, &GenerationError{Reason: err.Error(), Raw: raw}
				}
				continue
			}
			inBlock = true
			path = p
			content = content[:0]
			continue
		}

		if strings.TrimSpace(line) == "```" {
			files[path] = strings.Join(content, "\n")
			inBlock = false
			continue
		}
		content = append(content, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, &GenerationError{Reason: "reading response: " + err.Error(), Raw: raw}
	}
	if inBlock {
		return nil, &GenerationError{Reason: "unterminated file block for " + path, Raw: raw}
	}
	if len(files) == 0 {
		return nil, &GenerationError{Reason: "no file blocks in response", Raw: raw}
	}

	return files, nil
}

// parseInfoLine extracts the path from a fence info line like
// "```go path=src/main.go" or "```path=a.txt".
func parseInfoLine(line string) (string, bool) {
	info := strings.TrimPrefix(line, "```")
	for _, field := range strings.Fields(info) {
		if strings.HasPrefix(field, pathMarker) {
			path := strings.TrimPrefix(field, pathMarker)
			path = strings.Trim(path, `"`)
			if path == "" {
				return "", false
			}
			return path, true
		}
	}
	return "", false
}

func skipPlainBlock(scanner *bufio.Scanner) error {
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "```" {
			return nil
		}
	}
	return scanner.Err()
}
