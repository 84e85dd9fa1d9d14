// Package guardrail evaluates a changed-file set and diff statistics
// against the configured safety policy. Evaluation runs exactly once,
// immediately before the final apply-to-working-tree step; a non-empty
// violation list blocks the apply entirely. All checks run independently:
// every violation is reported, none short-circuits.
package guardrail

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/diffutil"
)

// builtinDependencyFiles is the default manifest/lockfile set protected
// when dependency protection is enabled without an explicit list.
var builtinDependencyFiles = []string{
	"go.mod", "go.sum",
	"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	"requirements.txt", "Pipfile", "Pipfile.lock", "pyproject.toml", "poetry.lock",
	"Cargo.toml", "Cargo.lock",
	"Gemfile", "Gemfile.lock",
	"composer.json", "composer.lock",
	"pom.xml", "build.gradle",
}

// Violation describes one policy breach.
type Violation struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

func (v Violation) String() string { return v.Rule + ": " + v.Detail }

// Evaluate checks changedFiles and stats against policy and returns every
// violation found.
func Evaluate(policy config.GuardrailConfig, changedFiles []string, stats diffutil.Stats) []Violation {
	var violations []Violation

	if len(changedFiles) > policy.MaxFiles {
		violations = append(violations, Violation{
			Rule:   "max_files",
			Detail: fmt.Sprintf("%d files changed, limit is %d", len(changedFiles), policy.MaxFiles),
		})
	}
	if stats.Added > policy.MaxAddedLines {
		violations = append(violations, Violation{
			Rule:   "max_added_lines",
			Detail: fmt.Sprintf("%d lines added, limit is %d", stats.Added, policy.MaxAddedLines),
		})
	}
	if stats.Removed > policy.MaxRemovedLines {
		violations = append(violations, Violation{
			Rule:   "max_removed_lines",
			Detail: fmt.Sprintf("%d lines removed, limit is %d", stats.Removed, policy.MaxRemovedLines),
		})
	}

	for _, pattern := range policy.ForbiddenPaths {
		matcher, err := compilePattern(pattern)
		if err != nil {
			violations = append(violations, Violation{
				Rule:   "forbidden_path",
				Detail: fmt.Sprintf("invalid pattern %q: %v", pattern, err),
			})
			continue
		}
		for _, f := range changedFiles {
			if matcher(f) {
				violations = append(violations, Violation{
					Rule:   "forbidden_path",
					Detail: fmt.Sprintf("%s matches forbidden pattern %q", f, pattern),
				})
			}
		}
	}

	if policy.ProtectDependencies {
		protected := policy.DependencyFiles
		if len(protected) == 0 {
			protected = builtinDependencyFiles
		}
		set := make(map[string]bool, len(protected))
		for _, p := range protected {
			set[p] = true
		}
		for _, f := range changedFiles {
			if set[f] || set[path.Base(f)] {
				violations = append(violations, Violation{
					Rule:   "dependency_file",
					Detail: fmt.Sprintf("%s is a protected dependency file", f),
				})
			}
		}
	}

	return violations
}

// compilePattern builds a matcher for a forbidden-path pattern. A single
// '*' wildcard is supported and does not cross path separators. Patterns
// without a separator match the basename only; patterns with a separator
// match the full relative path.
func compilePattern(pattern string) (func(string) bool, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	baseOnly := !strings.Contains(pattern, "/")
	return func(file string) bool {
		if baseOnly {
			return g.Match(path.Base(file))
		}
		return g.Match(file)
	}, nil
}
