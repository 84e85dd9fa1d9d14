// Package review models structured reviewer output. Reviewers are asked
// for a JSON object {ok, blockers, warnings, notes}; output that fails to
// parse is treated as the reviewer asserting nothing, not as an error.
// Multiple reviewer summaries merge by concatenation.
package review

import (
	"encoding/json"
	"fmt"

	"github.com/duetctl/duet/internal/jsonx"
)

// Issue is a single review finding.
type Issue struct {
	ID           string `json:"id"`
	Summary      string `json:"summary"`
	File         string `json:"file,omitempty"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
}

// Summary is one reviewer's structured verdict on a diff.
type Summary struct {
	OK       bool    `json:"ok"`
	Blockers []Issue `json:"blockers"`
	Warnings []Issue `json:"warnings"`
	Notes    string  `json:"notes"`
}

// HasBlockers reports whether the summary contains blocking issues.
func (s Summary) HasBlockers() bool { return len(s.Blockers) > 0 }

// Parse extracts a Summary from free-form reviewer output using tolerant
// JSON extraction. The second return value is false when no structured
// value was found; the caller records the absence and proceeds as if this
// reviewer asserted no blockers.
func Parse(output string) (Summary, bool) {
	var s Summary
	if err := jsonx.Extract(output, &s); err != nil {
		recovered, ok := scanSummary(output)
		if !ok {
			return Summary{OK: true}, false
		}
		s = recovered
	}
	assignIDs("blocker", s.Blockers)
	assignIDs("warning", s.Warnings)
	return s, true
}

// scanSummary recovers the verdict when the output holds several top-level
// JSON objects, which defeats the single-span extraction tiers. The first
// object carrying a review key wins; objects that do not parse are skipped.
func scanSummary(output string) (Summary, bool) {
	var found Summary
	ok := false
	jsonx.ExtractObjects(output, func(raw []byte) bool {
		var keys map[string]json.RawMessage
		if json.Unmarshal(raw, &keys) != nil {
			return true
		}
		if _, has := keys["ok"]; !has {
			if _, has := keys["blockers"]; !has {
				return true
			}
		}
		var s Summary
		if json.Unmarshal(raw, &s) != nil {
			return true
		}
		found, ok = s, true
		return false
	})
	return found, ok
}

// assignIDs fills in missing issue ids so downstream rounds can reference
// findings stably.
func assignIDs(kind string, issues []Issue) {
	for i := range issues {
		if issues[i].ID == "" {
			issues[i].ID = fmt.Sprintf("%s-%d", kind, i+1)
		}
	}
}

// Merge combines reviewer summaries: blockers and warnings concatenate,
// notes join with a blank line, and the merged OK holds only when every
// summary was OK and no blockers exist.
func Merge(summaries ...Summary) Summary {
	var merged Summary
	merged.OK = true
	for _, s := range summaries {
		merged.Blockers = append(merged.Blockers, s.Blockers...)
		merged.Warnings = append(merged.Warnings, s.Warnings...)
		if s.Notes != "" {
			if merged.Notes != "" {
				merged.Notes += "\n\n"
			}
			merged.Notes += s.Notes
		}
		if !s.OK {
			merged.OK = false
		}
	}
	if merged.HasBlockers() {
		merged.OK = false
	}
	return merged
}
