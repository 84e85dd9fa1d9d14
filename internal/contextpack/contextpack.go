// Package contextpack renders the context document every run writes before
// its first agent call: a capped repository inventory, excerpts of key
// project files, recent commit history, relevant memory entries, and the
// ancestor run's summary when the run is a branch.
package contextpack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/duetctl/duet/internal/logging"
	"github.com/duetctl/duet/internal/memory"
	"github.com/duetctl/duet/internal/worktree"
)

const (
	maxInventoryFiles = 200
	excerptLines      = 40
	historyDepth      = 10
	memoryDepth       = 3
)

// keyFiles are excerpted in full-head form when present at the root.
var keyFiles = []string{
	"README.md",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"Makefile",
}

// Builder assembles context packs.
type Builder struct {
	mem *memory.Store
	log *logging.Logger
}

// NewBuilder creates a Builder. mem may be nil to skip memory excerpts.
func NewBuilder(mem *memory.Store, log *logging.Logger) *Builder {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Builder{mem: mem, log: log}
}

// Build renders the context pack for a run over the project at root.
// ancestorSummary, when non-empty, is the parent run's final summary.
func (b *Builder) Build(root, task, ancestorSummary string) (string, error) {
	var sb strings.Builder
	sb.WriteString("# Context\n")

	inventory, truncated, err := b.inventory(root)
	if err != nil {
		return "", fmt.Errorf("building context: %w", err)
	}
	sb.WriteString("\n## File inventory\n")
	for _, path := range inventory {
		sb.WriteString(path)
		sb.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&sb, "… (capped at %d files)\n", maxInventoryFiles)
	}

	for _, name := range keyFiles {
		excerpt := headOfFile(filepath.Join(root, name))
		if excerpt == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s (head)\n```\n%s```\n", name, excerpt)
	}

	if history := b.recentHistory(root); len(history) > 0 {
		sb.WriteString("\n## Recent history\n")
		for _, line := range history {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	if b.mem != nil {
		entries, err := b.mem.Recall(task, memoryDepth)
		if err != nil {
			b.log.Warn("memory recall failed", "error", err)
		}
		if len(entries) > 0 {
			sb.WriteString("\n## Prior outcomes\n")
			for _, e := range entries {
				fmt.Fprintf(&sb, "- %s: %s\n", e.Task, e.Outcome)
			}
		}
	}

	if ancestorSummary != "" {
		sb.WriteString("\n## Previous run summary\n")
		sb.WriteString(ancestorSummary)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// inventory walks root collecting relative file paths, honoring the
// worktree exclusion set and the inventory cap.
func (b *Builder) inventory(root string) ([]string, bool, error) {
	var paths []string
	truncated := false
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
		if len(paths) >= maxInventoryFiles {
			truncated = true
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	sort.Strings(paths)
	return paths, truncated, nil
}

// recentHistory returns up to historyDepth "shorthash title" lines, newest
// first. A tree without history yields nothing.
func (b *Builder) recentHistory(root string) []string {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil
	}
	head, err := repo.Head()
	if err != nil {
		return nil
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil
	}
	defer iter.Close()

	var lines []string
	_ = iter.ForEach(func(c *object.Commit) error {
		title := strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0]
		lines = append(lines, fmt.Sprintf("%s %s", c.Hash.String()[:8], title))
		if len(lines) >= historyDepth {
			return storer.ErrStop
		}
		return nil
	})
	return lines
}

// headOfFile returns the first excerptLines lines of path, or "" when the
// file is absent.
func headOfFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.SplitAfter(string(data), "\n")
	if len(lines) > excerptLines {
		lines = lines[:excerptLines]
	}
	head := strings.Join(lines, "")
	if !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	return head
}
