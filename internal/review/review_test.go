package review

import (
	"testing"
)

func TestParseDirectJSON(t *testing.T) {
	output := `{"ok": false, "blockers": [{"summary": "nil deref", "file": "a.go"}], "warnings": [], "notes": "tidy"}`
	s, ok := Parse(output)
	if !ok {
		t.Fatal("expected structured value")
	}
	if s.OK || len(s.Blockers) != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.Blockers[0].ID != "blocker-1" {
		t.Errorf("missing assigned id: %+v", s.Blockers[0])
	}
}

func TestParseFencedJSON(t *testing.T) {
	output := "Overall this looks fine.\n```json\n{\"ok\": true, \"blockers\": [], \"warnings\": [{\"summary\": \"long function\"}], \"notes\": \"\"}\n```"
	s, ok := Parse(output)
	if !ok {
		t.Fatal("expected structured value")
	}
	if !s.OK || len(s.Warnings) != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestParseGarbageAssertsNothing(t *testing.T) {
	s, ok := Parse("I refuse to answer in JSON today.")
	if ok {
		t.Fatal("garbage should not parse")
	}
	if s.HasBlockers() || !s.OK {
		t.Errorf("absent review must assert no blockers: %+v", s)
	}
}

func TestParseRecoversVerdictAmongOtherObjects(t *testing.T) {
	output := `Tool log: {"event": "lint", "status": "done"}` + "\n" +
		"Verdict follows.\n" +
		`{"ok": false, "blockers": [{"summary": "race on counter"}], "warnings": [], "notes": ""}`

	s, ok := Parse(output)
	if !ok {
		t.Fatal("expected the verdict object to be recovered")
	}
	if s.OK || len(s.Blockers) != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.Blockers[0].ID != "blocker-1" {
		t.Errorf("recovered blocker missing assigned id: %+v", s.Blockers[0])
	}
}

func TestParseSkipsNonReviewObjects(t *testing.T) {
	output := `{"event": "start"} {"event": "stop"}`
	s, ok := Parse(output)
	if ok {
		t.Fatal("objects without review keys must not parse as a verdict")
	}
	if s.HasBlockers() || !s.OK {
		t.Errorf("absent review must assert no blockers: %+v", s)
	}
}

func TestMergeConcatenates(t *testing.T) {
	a := Summary{OK: false, Blockers: []Issue{{ID: "b1", Summary: "x"}}, Notes: "from a"}
	b := Summary{OK: true, Warnings: []Issue{{ID: "w1", Summary: "y"}}, Notes: "from b"}

	m := Merge(a, b)
	if len(m.Blockers) != 1 || len(m.Warnings) != 1 {
		t.Errorf("merged = %+v", m)
	}
	if m.OK {
		t.Error("merged OK must be false when blockers exist")
	}
	if m.Notes != "from a\n\nfrom b" {
		t.Errorf("notes = %q", m.Notes)
	}
}

func TestMergeToleratesMissingReviewer(t *testing.T) {
	present := Summary{OK: true}
	absent, _ := Parse("not json")

	m := Merge(present, absent)
	if !m.OK || m.HasBlockers() {
		t.Errorf("merge with absent reviewer = %+v", m)
	}
}
