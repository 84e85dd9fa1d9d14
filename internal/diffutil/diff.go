// Package diffutil computes unified diffs between trees, extracts changed
// file sets from diff text, and applies patches. It is the wire-level
// contract of the pipeline: every implementation and convergence round is
// communicated as unified-diff text.
//
// Diff selection is tiered: a version-control-aware diff against the last
// commit when the tree is a repository, the external diff tool for two
// sibling trees, and a pure-Go recursive tree diff as the final fallback.
// Exit code 1 from the external tools means "differences found", never an
// error.
package diffutil

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/duetctl/duet/internal/errors"
	"github.com/duetctl/duet/internal/logging"
	"github.com/duetctl/duet/internal/worktree"
)

// Reconciler computes and applies diffs.
type Reconciler struct {
	log *logging.Logger
}

// NewReconciler creates a Reconciler logging through log.
func NewReconciler(log *logging.Logger) *Reconciler {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Reconciler{log: log}
}

// DiffWorking returns the unified diff of root's working tree against its
// last commit. Both staged and unstaged changes are captured, since agents
// may stage automatically; untracked files are included via intent-to-add.
// The housekeeping exclusion set and any extra excluded directories are
// kept out of both the diff and the index, so running against a user's
// repository never registers state or dependency trees as intent-to-add.
func (r *Reconciler) DiffWorking(root string, exclude ...string) (string, error) {
	if !worktree.IsRepository(root) {
		return "", fmt.Errorf("diff working tree: %s is not a repository", root)
	}

	pathspec := []string{"--", "."}
	for _, name := range worktree.Exclusions() {
		pathspec = append(pathspec, ":(exclude)"+name)
	}
	for _, name := range exclude {
		if name != "" {
			pathspec = append(pathspec, ":(exclude)"+name)
		}
	}

	// Register untracked files so they appear in the diff without staging
	// their content.
	intent := exec.Command("git", append([]string{"add", "-N"}, pathspec...)...)
	intent.Dir = root
	if output, err := intent.CombinedOutput(); err != nil {
		return "", errors.NewVcsError("add --intent-to-add", string(output), err)
	}

	cmd := exec.Command("git", append([]string{"diff", "HEAD"}, pathspec...)...)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return "", errors.NewVcsError("diff HEAD", stderr, err)
	}
	return string(out), nil
}

// Diff returns the unified diff between two trees. When the trees share a
// parent directory and the external diff tool is available, the tool is
// used (exit code 1 is a normal "differences found" result). Otherwise a
// pure-Go recursive tree diff with the worktree exclusion set is produced.
func (r *Reconciler) Diff(baseRoot, otherRoot string) (string, error) {
	if text, ok, err := r.toolDiff(baseRoot, otherRoot); err != nil {
		return "", err
	} else if ok {
		return text, nil
	}
	r.log.Debug("falling back to tree diff", "base", baseRoot, "other", otherRoot)
	return TreeDiff(baseRoot, otherRoot)
}

// toolDiff shells out to diff -ruN when both trees share a parent, so the
// emitted headers carry one-component prefixes that strip cleanly on apply.
// Returns ok=false when the tool cannot be used.
func (r *Reconciler) toolDiff(baseRoot, otherRoot string) (string, bool, error) {
	parent := filepath.Dir(baseRoot)
	if filepath.Dir(otherRoot) != parent {
		return "", false, nil
	}
	if _, err := exec.LookPath("diff"); err != nil {
		return "", false, nil
	}

	args := []string{"-ruN"}
	for _, name := range worktree.Exclusions() {
		args = append(args, "-x", name)
	}
	args = append(args, filepath.Base(baseRoot), filepath.Base(otherRoot))

	cmd := exec.Command("diff", args...)
	cmd.Dir = parent
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			// Differences found.
			return stdout.String(), true, nil
		}
		return "", false, fmt.Errorf("diff tool failed: %w: %s", err, stderr.String())
	}
	return stdout.String(), true, nil
}

// ApplyResult reports the outcome of a patch application.
type ApplyResult struct {
	Applied bool   `json:"applied"`
	Output  string `json:"output,omitempty"`
}

// ApplyPatch applies unified-diff text to targetRoot. A nonzero exit from
// the underlying tool means "not applied", a soft failure the caller must
// treat as a stop signal for the current round, never a crash. An empty
// patch applies trivially.
func (r *Reconciler) ApplyPatch(targetRoot, patch string) (ApplyResult, error) {
	if strings.TrimSpace(patch) == "" {
		return ApplyResult{Applied: true}, nil
	}

	var cmd *exec.Cmd
	if worktree.IsRepository(targetRoot) {
		cmd = exec.Command("git", "apply", "--whitespace=nowarn", "-p1", "-")
	} else {
		// -E removes files emptied by the patch, so deletions round-trip.
		cmd = exec.Command("patch", "-p1", "-s", "-N", "-E")
	}
	cmd.Dir = targetRoot
	cmd.Stdin = strings.NewReader(ensureTrailingNewline(patch))

	output, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			r.log.Warn("patch did not apply", "target", targetRoot, "output", string(output))
			return ApplyResult{Applied: false, Output: string(output)}, nil
		}
		return ApplyResult{}, fmt.Errorf("running patch tool: %w", err)
	}
	return ApplyResult{Applied: true, Output: string(output)}, nil
}

func ensureTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// fileExists reports whether path exists as a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
