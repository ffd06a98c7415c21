// Package fsdiff computes textual differences between two file sets.
package fsdiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Unified renders a line-oriented diff of current against baseline. Files
// are listed in sorted path order; added and removed files are marked as
// such, changed files get +/- line hunks. Identical file sets yield an
// empty string.
func Unified(baseline, current map[string]string) string {
	paths := make(map[string]bool, len(baseline)+len(current))
	for p := range baseline {
		paths[p] = true
	}
	for p := range current {
		paths[p] = true
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var sb strings.Builder
	for _, path := range sorted {
		old, inBaseline := baseline[path]
		new_, inCurrent := current[path]

		switch {
		case !inBaseline:
			_, _ = fmt.Fprintf(&sb, "+++ %s (added)\n", path)
			writeLines(&sb, "+", new_)
		case !inCurrent:
			_, _ = fmt.Fprintf(&sb, "--- %s (removed)\n", path)
			writeLines(&sb, "-", old)
		case old != new_:
			_, _ = fmt.Fprintf(&sb, "~~~ %s (changed)\n", path)
			writeLineDiff(&sb, old, new_)
		}
	}
	return sb.String()
}

func writeLines(sb *strings.Builder, prefix, content string) {
	if content == "" {
		return
	}
	for _, line := range strings.Split(content, "\n") {
		sb.WriteString(prefix)
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}

// writeLineDiff renders a line-level diff using diffmatchpatch's
// line-mode: texts are mapped to rune sequences per line so edits never
// split within a line.
func writeLineDiff(sb *strings.Builder, old, new_ string) {
	dmp := diffmatchpatch.New()
	oldRunes, newRunes, lines := dmp.DiffLinesToRunes(old, new_)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(oldRunes, newRunes, false), lines)

	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		default:
			prefix = " "
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
}
