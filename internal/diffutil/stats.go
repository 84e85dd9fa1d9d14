package diffutil

import "strings"

// Stats summarizes a diff's magnitude for guardrail evaluation.
type Stats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// ComputeStats counts added and removed lines in unified-diff text. Only
// lines inside a hunk's @@ extent are counted, so file headers never skew
// the totals and content lines starting with ++ or -- are never mistaken
// for headers.
func ComputeStats(diffText string) Stats {
	var s Stats
	var hunk hunkExtent
	for _, line := range strings.Split(diffText, "\n") {
		if hunk.active() {
			switch {
			case strings.HasPrefix(line, "+"):
				s.Added++
			case strings.HasPrefix(line, "-"):
				s.Removed++
			}
			hunk.consume(line)
			continue
		}
		if strings.HasPrefix(line, "@@") {
			hunk.begin(line)
		}
	}
	return s
}
