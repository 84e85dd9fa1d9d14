package agent

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/errors"
)

// versionProbeTimeout bounds a single version probe.
const versionProbeTimeout = 10 * time.Second

var versionRegex = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// VerifyResult reports the verification outcome for one agent.
type VerifyResult struct {
	Agent   string `json:"agent"`
	Command string `json:"command"`
	Version string `json:"version,omitempty"`
	OK      bool   `json:"ok"`
	Problem string `json:"problem,omitempty"`
}

// Verify checks that every agent binary exists and meets its minimum
// version. The returned slice always has one entry per agent; the error is
// non-nil if any agent failed and wraps a per-agent VerificationError.
// Verification failures are fatal: the pipeline must not start.
func (p *ProcessInvoker) Verify(ctx context.Context, agents ...config.AgentConfig) ([]VerifyResult, error) {
	results := make([]VerifyResult, 0, len(agents))
	var errs []error

	for _, a := range agents {
		res := VerifyResult{Agent: a.Name, Command: a.Command}

		if _, err := exec.LookPath(a.Command); err != nil {
			res.Problem = "binary not found"
			results = append(results, res)
			errs = append(errs, &errors.VerificationError{Agent: a.Name, Err: errors.ErrAgentNotFound})
			continue
		}

		if len(a.VersionArgs) > 0 {
			version, err := p.probeVersion(ctx, a)
			if err != nil {
				res.Problem = err.Error()
				results = append(results, res)
				errs = append(errs, &errors.VerificationError{Agent: a.Name, Err: err})
				continue
			}
			res.Version = version
			p.setVersion(a.Name, version)

			if a.MinVersion != "" && compareVersions(version, a.MinVersion) < 0 {
				res.Problem = fmt.Sprintf("version %s below minimum %s", version, a.MinVersion)
				results = append(results, res)
				errs = append(errs, &errors.VerificationError{
					Agent: a.Name, Version: version, Minimum: a.MinVersion,
					Err: errors.ErrVersionBelowMinimum,
				})
				continue
			}
		}

		res.OK = true
		results = append(results, res)
	}

	if len(errs) > 0 {
		return results, errors.Join(errs...)
	}
	return results, nil
}

// probeVersion runs the agent's version arguments and extracts a dotted
// version number from the output.
func (p *ProcessInvoker) probeVersion(ctx context.Context, a config.AgentConfig) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, a.Command, a.VersionArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("version probe failed: %w", err)
	}

	match := versionRegex.FindString(string(out))
	if match == "" {
		return "", fmt.Errorf("no version number in probe output %q", strings.TrimSpace(string(out)))
	}
	return match, nil
}

// compareVersions compares two dotted version strings numerically.
// Returns -1, 0, or 1.
func compareVersions(a, b string) int {
	pa := parseVersion(a)
	pb := parseVersion(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimFunc(parts[i], func(r rune) bool {
			return r < '0' || r > '9'
		}))
		if err == nil {
			out[i] = n
		}
	}
	return out
}
