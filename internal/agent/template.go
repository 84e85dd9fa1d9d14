package agent

import (
	"strings"
)

// Substitution holds the values available to argument templates and the
// environment of an agent process.
type Substitution struct {
	WorkDir      string
	Phase        string
	Prompt       string
	PromptFile   string
	Task         string
	Session      string
	Run          string
	Agent        string
	Mode         string
	Version      string
	Capabilities string
}

// placeholders maps template tokens to value accessors.
func (s Substitution) pairs() []string {
	return []string{
		"{workdir}", s.WorkDir,
		"{phase}", s.Phase,
		"{prompt}", s.Prompt,
		"{prompt_file}", s.PromptFile,
		"{task}", s.Task,
		"{session}", s.Session,
		"{run}", s.Run,
		"{agent}", s.Agent,
		"{mode}", s.Mode,
		"{version}", s.Version,
		"{capabilities}", s.Capabilities,
	}
}

// ExpandArgs substitutes placeholders in every element of the argument
// template. Unknown braces are left as-is.
func ExpandArgs(args []string, s Substitution) []string {
	replacer := strings.NewReplacer(s.pairs()...)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = replacer.Replace(a)
	}
	return out
}

// Environ returns the DUET_* environment variables carrying the same
// information as the argument placeholders.
func (s Substitution) Environ() []string {
	return []string{
		"DUET_WORKDIR=" + s.WorkDir,
		"DUET_PHASE=" + s.Phase,
		"DUET_PROMPT_FILE=" + s.PromptFile,
		"DUET_TASK=" + s.Task,
		"DUET_SESSION=" + s.Session,
		"DUET_RUN=" + s.Run,
		"DUET_AGENT=" + s.Agent,
		"DUET_MODE=" + s.Mode,
		"DUET_AGENT_VERSION=" + s.Version,
		"DUET_CAPABILITIES=" + s.Capabilities,
	}
}
