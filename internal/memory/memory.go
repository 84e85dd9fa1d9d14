// Package memory is the append-only outcome log consulted when building a
// run's context pack. Recall is deliberately naive: entries are scored by
// term overlap with the task text, nothing more. The store is an external
// collaborator of the pipeline core and replaceable without touching it.
package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one recorded task outcome.
type Entry struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Task    string    `json:"task"`
	Outcome string    `json:"outcome"`
}

// Store appends to and recalls from a JSONL file.
type Store struct {
	path string
}

// NewStore creates a Store over the JSONL file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Record appends one entry. The file is created on first use.
func (s *Store) Record(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("recording memory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("recording memory: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("recording memory: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("recording memory: %w", err)
	}
	return nil
}

// Recall returns up to k entries scored by term overlap with task, best
// first. Entries with no overlapping terms are never returned. A missing
// file recalls nothing.
func (s *Store) Recall(task string, k int) ([]Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("recalling memory: %w", err)
	}
	defer f.Close()

	want := terms(task)

	type scored struct {
		entry Entry
		score int
	}
	var candidates []scored

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// A torn trailing line from an interrupted write is skipped.
			continue
		}
		if score := overlap(want, terms(e.Task+" "+e.Outcome)); score > 0 {
			candidates = append(candidates, scored{entry: e, score: score})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recalling memory: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Entry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out, nil
}

// terms lowercases and splits text into a set of words of length >= 3.
func terms(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(w) >= 3 {
			set[w] = true
		}
	}
	return set
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}
