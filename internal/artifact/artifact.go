// Package artifact is the append-only, path-addressed store the pipeline
// phases communicate through. Every phase commits its output here before
// the next phase reads it, which is what makes runs inspectable,
// resumable, and branchable. Put never overwrites: an existing key is an
// error, since no artifact is ever produced twice for the same run.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/errors"
)

// Store is rooted at the orchestrator's state directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root (typically <project>/.duet).
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Path resolves a store key to its absolute path.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes data under key. Fails with errors.ErrArtifactExists when the
// key is already present.
func (s *Store) Put(key string, data []byte) error {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("put %s: %w", key, errors.ErrArtifactExists)
		}
		return fmt.Errorf("put %s: %w", key, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	return f.Close()
}

// PutString writes text under key.
func (s *Store) PutString(key, text string) error {
	return s.Put(key, []byte(text))
}

// PutJSON marshals v with indentation and writes it under key.
func (s *Store) PutJSON(key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return s.Put(key, append(data, '\n'))
}

// Get reads the artifact stored under key. Fails with
// errors.ErrArtifactNotFound when the key is absent.
func (s *Store) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get %s: %w", key, errors.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// GetJSON reads and unmarshals the artifact stored under key.
func (s *Store) GetJSON(key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// RunKey builds a key under sessions/<session>/runs/<run>.
func RunKey(session, run string, parts ...string) string {
	key := "sessions/" + session + "/runs/" + run
	for _, p := range parts {
		key += "/" + p
	}
	return key
}

// SessionKey builds a key under sessions/<session>.
func SessionKey(session string, parts ...string) string {
	key := "sessions/" + session
	for _, p := range parts {
		key += "/" + p
	}
	return key
}

// SaveResult persists one agent invocation under
// phases/<phase>/<agent>.{prompt.txt,stdout.log,stderr.log,output.json}.
func (s *Store) SaveResult(session, run string, res agent.Result) error {
	prefix := RunKey(session, run, "phases", res.Phase, res.Agent)
	if err := s.PutString(prefix+".prompt.txt", res.Prompt); err != nil {
		return err
	}
	if err := s.PutString(prefix+".stdout.log", res.Stdout); err != nil {
		return err
	}
	if err := s.PutString(prefix+".stderr.log", res.Stderr); err != nil {
		return err
	}
	return s.PutJSON(prefix+".output.json", res)
}

// SaveResults persists a batch of invocation results in order.
func (s *Store) SaveResults(session, run string, results []agent.Result) error {
	for _, res := range results {
		if err := s.SaveResult(session, run, res); err != nil {
			return err
		}
	}
	return nil
}
