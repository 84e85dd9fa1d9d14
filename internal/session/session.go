// Package session manages the session and run records that partition the
// artifact tree. A session owns its immutable task text and any number of
// runs; a run may branch from a prior run, in which case the ancestor's
// final summary feeds the new run's context.
package session

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/duetctl/duet/internal/artifact"
	"github.com/duetctl/duet/internal/errors"
)

// Session groups runs over one immutable task.
type Session struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is one pipeline execution within a session.
type Run struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	ParentRun string    `json:"parent_run,omitempty"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions and runs through the artifact store.
type Store struct {
	artifacts *artifact.Store
}

// NewStore creates a session Store over the artifact store.
func NewStore(artifacts *artifact.Store) *Store {
	return &Store{artifacts: artifacts}
}

// Open returns the session with the given id, creating it on first use.
// An existing session keeps its recorded task: the task text is immutable
// after creation.
func (s *Store) Open(id, task string) (Session, error) {
	key := artifact.SessionKey(id, "session.json")
	if s.artifacts.Exists(key) {
		var existing Session
		if err := s.artifacts.GetJSON(key, &existing); err != nil {
			return Session{}, err
		}
		return existing, nil
	}

	sess := Session{ID: id, Task: task, CreatedAt: time.Now().UTC()}
	if err := s.artifacts.PutJSON(key, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// NewRun creates a run record under sess. parentRun, when non-empty, must
// name an existing run of the same session.
func (s *Store) NewRun(sess Session, mode, parentRun string) (Run, error) {
	if parentRun != "" {
		if _, err := s.LoadRun(sess.ID, parentRun); err != nil {
			return Run{}, err
		}
	}

	run := Run{
		ID:        uuid.NewString(),
		Session:   sess.ID,
		ParentRun: parentRun,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.artifacts.PutJSON(artifact.RunKey(sess.ID, run.ID, "run.json"), run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// LoadRun reads a run record back.
func (s *Store) LoadRun(session, run string) (Run, error) {
	var r Run
	err := s.artifacts.GetJSON(artifact.RunKey(session, run, "run.json"), &r)
	if errors.Is(err, errors.ErrArtifactNotFound) {
		return Run{}, fmt.Errorf("run %s/%s: %w", session, run, errors.ErrRunNotFound)
	}
	return r, err
}

// AncestorSummary returns run's parent run's final summary, or "" when the
// run has no parent or the ancestor produced no summary.
func (s *Store) AncestorSummary(run Run) string {
	if run.ParentRun == "" {
		return ""
	}
	data, err := s.artifacts.Get(artifact.RunKey(run.Session, run.ParentRun, "final", "summary.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

// List returns every recorded session, oldest first.
func (s *Store) List() ([]Session, error) {
	dir := s.artifacts.Path("sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var sessions []Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var sess Session
		if err := s.artifacts.GetJSON(artifact.SessionKey(e.Name(), "session.json"), &sess); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return sessions, nil
}

// Runs returns every run of a session, oldest first.
func (s *Store) Runs(session string) ([]Run, error) {
	dir := s.artifacts.Path(artifact.SessionKey(session, "runs"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var runs []Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := s.LoadRun(session, e.Name())
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}
