package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/duetctl/duet/internal/errors"
)

type verdict struct {
	Winner    string `json:"winner"`
	Rationale string `json:"rationale"`
}

func TestExtractDirect(t *testing.T) {
	var v verdict
	err := Extract(`{"winner": "a", "rationale": "cleaner plan"}`, &v)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Winner != "a" || v.Rationale != "cleaner plan" {
		t.Errorf("got %+v", v)
	}
}

func TestExtractFencedBlock(t *testing.T) {
	text := "Here is my judgment:\n```json\n{\"winner\": \"b\", \"rationale\": \"simpler\"}\n```\nThanks!"
	var v verdict
	if err := Extract(text, &v); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Winner != "b" {
		t.Errorf("winner = %q, want b", v.Winner)
	}
}

func TestExtractPlainFence(t *testing.T) {
	text := "```\n{\"winner\": \"a\"}\n```"
	var v verdict
	if err := Extract(text, &v); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Winner != "a" {
		t.Errorf("winner = %q, want a", v.Winner)
	}
}

func TestExtractBraceSpan(t *testing.T) {
	text := `After careful thought, {"winner": "neither", "rationale": "both weak"} is my verdict.`
	var v verdict
	if err := Extract(text, &v); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Winner != "neither" {
		t.Errorf("winner = %q, want neither", v.Winner)
	}
}

func TestExtractPrefersDirectOverFence(t *testing.T) {
	// The whole text is valid JSON; the embedded fence must not win.
	text := `{"winner": "a", "rationale": "see ` + "`code`" + ` notes"}`
	var v verdict
	if err := Extract(text, &v); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Winner != "a" {
		t.Errorf("winner = %q, want a", v.Winner)
	}
}

func TestExtractNoValue(t *testing.T) {
	for _, text := range []string{"", "   ", "no json here", "{broken", "``` not json ```"} {
		var v verdict
		if err := Extract(text, &v); !errors.Is(err, errors.ErrNoStructuredOutput) {
			t.Errorf("Extract(%q) = %v, want ErrNoStructuredOutput", text, err)
		}
	}
}

func TestExtractObjects(t *testing.T) {
	text := `noise {"id":"1"} more {"id":"2","nested":{"x":1}} {broken trailing`
	var ids []string
	ExtractObjects(text, func(raw []byte) bool {
		var obj struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &obj) == nil && obj.ID != "" {
			ids = append(ids, obj.ID)
		}
		return true
	})
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
}

func TestExtractObjectsIgnoresBracesInStrings(t *testing.T) {
	text := `{"msg": "has } brace"} {"msg": "ok"}`
	count := 0
	ExtractObjects(text, func(raw []byte) bool {
		var obj map[string]any
		if json.Unmarshal(raw, &obj) == nil {
			count++
		}
		return true
	})
	if count != 2 {
		t.Errorf("parsed %d objects, want 2", count)
	}
}
