// Package worktree creates and synchronizes the isolated working copies
// that agents edit. Each worktree is exclusively owned by one (run, role)
// pair for its lifetime; the core never deletes a worktree.
//
// Two backends exist: a git worktree detached from HEAD when the base root
// is a repository, and a recursive directory copy otherwise. Both honor a
// fixed exclusion set of housekeeping directories.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"

	"github.com/duetctl/duet/internal/errors"
	"github.com/duetctl/duet/internal/logging"
)

// exclusions is the fixed set of housekeeping directories never copied,
// synced, or diffed: version-control metadata, duet's own state directory,
// and common dependency/build output directories.
var exclusions = map[string]bool{
	".git":         true,
	".duet":        true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".venv":        true,
}

// Excluded reports whether a directory name belongs to the housekeeping
// exclusion set.
func Excluded(name string) bool { return exclusions[name] }

// Exclusions returns the exclusion set as a sorted slice.
func Exclusions() []string {
	out := make([]string, 0, len(exclusions))
	for name := range exclusions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsRepository reports whether root is inside a git repository.
func IsRepository(root string) bool {
	_, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}

// Manager acquires and synchronizes worktrees.
type Manager struct {
	log *logging.Logger
}

// NewManager creates a Manager logging through log.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Manager{log: log}
}

// Acquire creates an isolated worktree of baseRoot at destPath. It fails
// with errors.ErrWorktreeExists if destPath already exists: a run never
// re-acquires a worktree, so an existing destination signals stale state.
func (m *Manager) Acquire(baseRoot, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("acquire %s: %w", destPath, errors.ErrWorktreeExists)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("acquire %s: %w", destPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("acquire %s: %w", destPath, err)
	}

	if IsRepository(baseRoot) {
		return m.acquireGit(baseRoot, destPath)
	}
	m.log.Debug("acquiring worktree by copy", "base", baseRoot, "dest", destPath)
	return CopyTree(baseRoot, destPath)
}

// acquireGit creates a detached git worktree from HEAD. A failure is a
// VcsError: the repository state is not clean enough for worktree creation.
func (m *Manager) acquireGit(baseRoot, destPath string) error {
	m.log.Debug("acquiring git worktree", "base", baseRoot, "dest", destPath)

	cmd := exec.Command("git", "worktree", "add", "--detach", destPath, "HEAD")
	cmd.Dir = baseRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.NewVcsError("worktree add", string(output), err)
	}
	return nil
}

// Sync performs a reconciling copy from srcRoot to destRoot: destination
// entries absent from the source are removed (deepest-first, so non-empty
// parents are not removed prematurely), then the source is copied over the
// destination. Both passes honor the exclusion set.
func (m *Manager) Sync(srcRoot, destRoot string) error {
	extras, err := collectExtras(srcRoot, destRoot)
	if err != nil {
		return fmt.Errorf("sync %s: %w", destRoot, err)
	}

	// Deepest paths first.
	sort.Slice(extras, func(i, j int) bool {
		return strings.Count(extras[i], string(os.PathSeparator)) > strings.Count(extras[j], string(os.PathSeparator))
	})
	for _, rel := range extras {
		if err := os.RemoveAll(filepath.Join(destRoot, rel)); err != nil {
			return fmt.Errorf("sync %s: removing %s: %w", destRoot, rel, err)
		}
	}

	return CopyTree(srcRoot, destRoot)
}

// collectExtras returns destination-relative paths that do not exist in the
// source tree.
func collectExtras(srcRoot, destRoot string) ([]string, error) {
	var extras []string
	err := filepath.WalkDir(destRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == destRoot {
			return nil
		}
		if d.IsDir() && Excluded(d.Name()) {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(destRoot, path)
		if err != nil {
			return err
		}
		if _, err := os.Lstat(filepath.Join(srcRoot, rel)); os.IsNotExist(err) {
			extras = append(extras, rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	return extras, err
}
