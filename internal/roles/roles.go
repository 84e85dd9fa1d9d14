// Package roles models the two-agent role assignments used by the
// implementation and convergence loops. A Pair is an immutable snapshot of
// which agent holds the primary role; Swap is a pure transition returning a
// new Pair, so the loop state machines can be audited and tested without
// any I/O.
package roles

// Role identifies a position within a two-agent loop.
type Role string

const (
	// Driver edits the shared worktree during joint implementation.
	Driver Role = "driver"
	// Navigator reviews the driver's work and proposes patches.
	Navigator Role = "navigator"
	// Fixer addresses review findings during convergence.
	Fixer Role = "fixer"
	// Critic re-reviews the fixer's changes during convergence.
	Critic Role = "critic"
)

// Pair assigns two agents to a primary/secondary role pairing.
// Primary is the driver (or fixer), Secondary the navigator (or critic).
type Pair struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// NewPair creates a Pair with the given primary and secondary agents.
func NewPair(primary, secondary string) Pair {
	return Pair{Primary: primary, Secondary: secondary}
}

// Swap returns a new Pair with the roles exchanged. The receiver is
// unchanged.
func (p Pair) Swap() Pair {
	return Pair{Primary: p.Secondary, Secondary: p.Primary}
}

// Holds reports whether agent holds any role in the pair.
func (p Pair) Holds(agent string) bool {
	return p.Primary == agent || p.Secondary == agent
}

// Other returns the counterpart of agent in the pair, or "" if agent holds
// no role.
func (p Pair) Other(agent string) string {
	switch agent {
	case p.Primary:
		return p.Secondary
	case p.Secondary:
		return p.Primary
	default:
		return ""
	}
}
