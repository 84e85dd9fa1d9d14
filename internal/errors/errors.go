// Package errors provides centralized error definitions and classification
// for the duet codebase. It defines sentinel errors for each failure class,
// semantic error types with context wrapping, and helpers that decide
// whether a failure aborts the run or is absorbed into the recorded
// artifacts.
//
// The taxonomy follows the pipeline's error handling design:
//
//   - Configuration and verification errors are fatal before any agent runs.
//   - Worktree collisions are fatal (they signal stale state or reentrancy).
//   - Agent execution failures, unparseable structured output, patch-apply
//     failures, and guardrail violations are recorded, never raised.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions so callers import only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Configuration and verification sentinels. All fatal.
var (
	// ErrConfigInvalid indicates missing or malformed configuration.
	ErrConfigInvalid = New("configuration invalid")
	// ErrAgentNotFound indicates an agent binary could not be located.
	ErrAgentNotFound = New("agent binary not found")
	// ErrVersionBelowMinimum indicates an agent is older than required.
	ErrVersionBelowMinimum = New("agent version below minimum")
)

// Worktree and version-control sentinels.
var (
	// ErrWorktreeExists indicates the worktree destination already exists.
	// This is a reentrancy guard: a run never re-acquires a worktree.
	ErrWorktreeExists = New("worktree destination already exists")
	// ErrVcs indicates a version-control operation failed.
	ErrVcs = New("version control operation failed")
)

// Soft-failure sentinels. These are recorded in run artifacts and never
// terminate the pipeline.
var (
	// ErrPatchNotApplied indicates a patch could not be applied cleanly.
	ErrPatchNotApplied = New("patch not applied")
	// ErrGuardrailBlocked indicates guardrail violations blocked the final apply.
	ErrGuardrailBlocked = New("guardrail blocked apply")
	// ErrNoStructuredOutput indicates no JSON value could be extracted from
	// agent output. Callers treat this as absence of a signal.
	ErrNoStructuredOutput = New("no structured output")
	// ErrAgentExecution indicates a nonzero exit or timeout from an agent call.
	ErrAgentExecution = New("agent execution failed")
)

// Artifact store sentinels.
var (
	// ErrArtifactExists indicates a Put would overwrite an existing artifact.
	// The store is append-only.
	ErrArtifactExists = New("artifact already exists")
	// ErrArtifactNotFound indicates a Get for a missing artifact key.
	ErrArtifactNotFound = New("artifact not found")
	// ErrSessionNotFound indicates a session id with no on-disk record.
	ErrSessionNotFound = New("session not found")
	// ErrRunNotFound indicates a run id with no on-disk record.
	ErrRunNotFound = New("run not found")
)

// ConfigError wraps a configuration failure with the offending field.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("config: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigInvalid
}

// NewConfigError creates a ConfigError for the given field.
func NewConfigError(field, msg string) *ConfigError {
	return &ConfigError{Field: field, Msg: msg}
}

// VerificationError reports a per-agent verification failure.
type VerificationError struct {
	Agent   string
	Version string
	Minimum string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("agent %s: version %s below minimum %s", e.Agent, e.Version, e.Minimum)
	}
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// VcsError wraps a version-control failure with the command output.
type VcsError struct {
	Op     string
	Output string
	Err    error
}

func (e *VcsError) Error() string {
	return fmt.Sprintf("vcs %s: %v", e.Op, e.Err)
}

func (e *VcsError) Unwrap() error { return ErrVcs }

// NewVcsError creates a VcsError for the given operation.
func NewVcsError(op, output string, err error) *VcsError {
	return &VcsError{Op: op, Output: output, Err: err}
}

// IsFatal reports whether err should terminate the run with a nonzero exit.
// Everything else is absorbed into the recorded artifacts.
func IsFatal(err error) bool {
	switch {
	case Is(err, ErrConfigInvalid),
		Is(err, ErrAgentNotFound),
		Is(err, ErrVersionBelowMinimum),
		Is(err, ErrWorktreeExists),
		Is(err, ErrVcs):
		return true
	}
	var ve *VerificationError
	return As(err, &ve)
}

// IsRecorded reports whether err belongs to the soft-failure classes that
// are written to artifacts and absorbed.
func IsRecorded(err error) bool {
	return Is(err, ErrPatchNotApplied) ||
		Is(err, ErrGuardrailBlocked) ||
		Is(err, ErrNoStructuredOutput) ||
		Is(err, ErrAgentExecution)
}
