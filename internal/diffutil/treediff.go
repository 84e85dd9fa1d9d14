package diffutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/duetctl/duet/internal/worktree"
)

// TreeDiff computes a unified diff between two directory trees without any
// external tool. Headers use git-style a/ b/ prefixes so the output applies
// with either git apply or patch -p1. Hunks are whole-file replacements:
// correctness over minimality, since this path only runs when no diff tool
// is available.
func TreeDiff(baseRoot, otherRoot string) (string, error) {
	basePaths, err := listFiles(baseRoot)
	if err != nil {
		return "", fmt.Errorf("tree diff: %w", err)
	}
	otherPaths, err := listFiles(otherRoot)
	if err != nil {
		return "", fmt.Errorf("tree diff: %w", err)
	}

	union := make(map[string]bool, len(basePaths)+len(otherPaths))
	for _, p := range basePaths {
		union[p] = true
	}
	for _, p := range otherPaths {
		union[p] = true
	}
	paths := make([]string, 0, len(union))
	for p := range union {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var sb strings.Builder
	for _, rel := range paths {
		baseFile := filepath.Join(baseRoot, rel)
		otherFile := filepath.Join(otherRoot, rel)
		baseExists := fileExists(baseFile)
		otherExists := fileExists(otherFile)

		var baseContent, otherContent []byte
		if baseExists {
			if baseContent, err = os.ReadFile(baseFile); err != nil {
				return "", fmt.Errorf("tree diff: %w", err)
			}
		}
		if otherExists {
			if otherContent, err = os.ReadFile(otherFile); err != nil {
				return "", fmt.Errorf("tree diff: %w", err)
			}
		}

		if baseExists && otherExists && string(baseContent) == string(otherContent) {
			continue
		}

		writeFileDiff(&sb, rel, baseExists, otherExists, string(baseContent), string(otherContent))
	}
	return sb.String(), nil
}

// listFiles returns the sorted relative paths of regular files under root,
// honoring the worktree exclusion set. Paths use forward slashes.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && worktree.Excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// writeFileDiff emits one file's unified diff as a whole-file replacement.
func writeFileDiff(sb *strings.Builder, rel string, baseExists, otherExists bool, baseContent, otherContent string) {
	fmt.Fprintf(sb, "diff --git a/%s b/%s\n", rel, rel)

	oldName := "a/" + rel
	newName := "b/" + rel
	if !baseExists {
		oldName = "/dev/null"
	}
	if !otherExists {
		newName = "/dev/null"
	}
	fmt.Fprintf(sb, "--- %s\n+++ %s\n", oldName, newName)

	oldLines := splitDiffLines(baseContent)
	newLines := splitDiffLines(otherContent)

	oldStart := 1
	if len(oldLines) == 0 {
		oldStart = 0
	}
	newStart := 1
	if len(newLines) == 0 {
		newStart = 0
	}
	fmt.Fprintf(sb, "@@ -%d,%d +%d,%d @@\n", oldStart, len(oldLines), newStart, len(newLines))

	writeBody(sb, '-', oldLines, baseContent)
	writeBody(sb, '+', newLines, otherContent)
}

func writeBody(sb *strings.Builder, prefix byte, lines []string, content string) {
	for i, line := range lines {
		sb.WriteByte(prefix)
		sb.WriteString(line)
		sb.WriteByte('\n')
		if i == len(lines)-1 && !strings.HasSuffix(content, "\n") {
			sb.WriteString("\\ No newline at end of file\n")
		}
	}
}

// splitDiffLines splits content into lines without trailing newlines.
// Empty content yields no lines.
func splitDiffLines(content string) []string {
	if content == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(content, "\n")
	return strings.Split(trimmed, "\n")
}
