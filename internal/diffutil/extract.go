package diffutil

import (
	"sort"
	"strings"
)

// ExtractChangedFiles parses diff text and returns the sorted, deduplicated
// set of changed file paths, relative and slash-separated. Three header
// styles are recognized: git headers (diff --git a/x b/y), recursive tool
// headers (diff -ruN left right), and plain ---/+++ file headers. Path
// prefixes (a/, b/, one-component tree roots) and embedded timestamps are
// stripped. Hunk body lines are skipped by their @@ extents, so content
// that merely resembles a header never produces a file.
func ExtractChangedFiles(diffText string) []string {
	seen := make(map[string]bool)
	var hunk hunkExtent

	for _, line := range strings.Split(diffText, "\n") {
		if hunk.active() {
			hunk.consume(line)
			continue
		}
		switch {
		case strings.HasPrefix(line, "@@"):
			hunk.begin(line)
		case strings.HasPrefix(line, "diff --git "):
			// diff --git a/path b/path: take the b side, tolerate the a
			// side when the b side is missing.
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if p := stripPrefix(fields[3]); p != "" {
					seen[p] = true
					continue
				}
				if p := stripPrefix(fields[2]); p != "" {
					seen[p] = true
				}
			}
		case strings.HasPrefix(line, "diff "):
			// diff -ruN left/path right/path, the recursive tool header.
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if p := stripPrefix(fields[len(fields)-1]); p != "" {
					seen[p] = true
				} else if p := stripPrefix(fields[len(fields)-2]); p != "" {
					seen[p] = true
				}
			}
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
			name := strings.TrimSpace(line[4:])
			// diff tools append a tab-separated timestamp.
			if idx := strings.IndexByte(name, '\t'); idx >= 0 {
				name = name[:idx]
			}
			if p := stripPrefix(name); p != "" {
				seen[p] = true
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// stripPrefix normalizes a header path: forward slashes, quotes removed,
// /dev/null dropped, and the first path component (a/, b/, or a tree root
// name) stripped. A bare filename with no separator is returned as-is.
func stripPrefix(name string) string {
	name = strings.Trim(name, `"`)
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || name == "/dev/null" {
		return ""
	}
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
