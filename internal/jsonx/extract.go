// Package jsonx extracts structured JSON values from free-form agent
// output. Agents are asked for JSON but frequently wrap it in prose or
// fenced code blocks, so extraction is a three-tier fallback: strict parse
// of the whole text, parse of the first fenced code block, then parse of
// the first-to-last brace substring. Absence of a structured value is a
// first-class outcome, not an error condition for the pipeline.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/duetctl/duet/internal/errors"
)

// fencedBlockRegex matches ```json ... ``` or plain ``` ... ``` blocks.
var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Extract unmarshals the first JSON object found in text into v.
// It tries, in order: the whole text, the contents of each fenced code
// block, and the substring from the first '{' to the last '}'. Returns
// errors.ErrNoStructuredOutput when no tier yields valid JSON.
func Extract(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errors.ErrNoStructuredOutput
	}

	// Tier 1: direct parse.
	if json.Unmarshal([]byte(trimmed), v) == nil {
		return nil
	}

	// Tier 2: fenced code blocks, first parseable wins.
	for _, match := range fencedBlockRegex.FindAllStringSubmatch(trimmed, -1) {
		candidate := strings.TrimSpace(match[1])
		if candidate == "" {
			continue
		}
		if json.Unmarshal([]byte(candidate), v) == nil {
			return nil
		}
	}

	// Tier 3: first-to-last brace span.
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if json.Unmarshal([]byte(trimmed[start:end+1]), v) == nil {
			return nil
		}
	}

	return errors.ErrNoStructuredOutput
}

// ExtractObjects scans text for top-level JSON objects by brace depth and
// hands each raw candidate to the callback; returning false stops the
// scan. Callers use it to recover a value when several top-level objects
// defeat the single-span tiers of Extract.
func ExtractObjects(text string, each func(raw []byte) bool) {
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				if !each([]byte(text[start : i+1])) {
					return
				}
				start = -1
			}
		}
	}
}
