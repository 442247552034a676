// Package agent assembles the system prompt. The embedded base prompt
// carries the assistant's role and tool-use guidance; an operator can
// replace it wholesale with a system_prompt.txt in the workspace or a
// configured prompt file. Runtime sections (time, tools, playbooks) are
// substituted per turn.
package agent

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maddsec/kalibot/logger"
)

//go:embed prompts/base.md
var basePrompt string

// DefaultAgentName is used when no explicit agent name is given.
const DefaultAgentName = "kalibot"

// PromptContext carries per-render values.
type PromptContext struct {
	Time time.Time
}

// Agent holds one prompt template plus the variables set for it.
type Agent struct {
	Name string

	raw  string
	time time.Time
	vars map[string]string
}

// NewRawAgent wraps a raw template string in an Agent.
func NewRawAgent(name, raw string) *Agent {
	return &Agent{
		Name: name,
		raw:  raw,
		vars: make(map[string]string),
	}
}

// Set stores a template variable for key. A time.Time under "TIME" also
// drives the {{CALENDAR}} section; string slices are joined with ", ".
func (a *Agent) Set(key string, value any) {
	switch v := value.(type) {
	case time.Time:
		if key == "TIME" {
			a.time = v
			return
		}
		a.vars[key] = v.Format("2006-01-02 15:04:05 MST (Monday)")
	case []string:
		a.vars[key] = strings.Join(v, ", ")
	case string:
		a.vars[key] = v
	default:
		a.vars[key] = fmt.Sprint(v)
	}
}

// Build renders the prompt with the variables set so far.
func (a *Agent) Build() string {
	t := a.time
	if t.IsZero() {
		t = time.Now()
	}
	return a.BuildPrompt(PromptContext{Time: t})
}

// BuildPrompt renders the prompt against an explicit context.
func (a *Agent) BuildPrompt(pctx PromptContext) string {
	return strings.TrimSpace(renderPrompt(a.raw, pctx, a.vars))
}

// renderPrompt substitutes the built-in {{TIME}} and {{CALENDAR}} sections,
// then every caller-provided variable.
func renderPrompt(raw string, pctx PromptContext, vars map[string]string) string {
	now := pctx.Time
	if now.IsZero() {
		now = time.Now()
	}
	out := strings.ReplaceAll(raw, "{{TIME}}", now.Format("2006-01-02 15:04:05 MST (Monday)"))
	out = strings.ReplaceAll(out, "{{CALENDAR}}", formatCalendar(now))
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// formatCalendar renders the timezone plus a 15-day window around now, so
// the model can resolve relative dates in scan logs and report names.
func formatCalendar(now time.Time) string {
	name, offset := now.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Timezone: %s (UTC%s%02d:%02d)", name, sign, offset/3600, (offset%3600)/60)
	for d := -7; d <= 7; d++ {
		day := now.AddDate(0, 0, d)
		marker := ""
		switch d {
		case -1:
			marker = "Yesterday, "
		case 0:
			marker = "Today, "
		case 1:
			marker = "Tomorrow, "
		}
		fmt.Fprintf(&sb, "\n%+dd: %s (%s%s)", d, day.Format("2006-01-02"), marker, day.Weekday())
	}
	return sb.String()
}

// Registry builds agents for a workspace.
type Registry struct {
	workspace  string
	promptFile string
}

// NewRegistry creates a registry rooted at the workspace.
func NewRegistry(workspace string) *Registry {
	return &Registry{workspace: strings.TrimSpace(workspace)}
}

// SetPromptFile points the registry at an explicit prompt file. Unlike the
// default <workspace>/system_prompt.txt, a configured file must exist.
func (r *Registry) SetPromptFile(path string) {
	r.promptFile = strings.TrimSpace(path)
}

// New returns an agent using the configured prompt file, the operator's
// system_prompt.txt when one exists in the workspace, or the embedded base
// prompt otherwise.
func (r *Registry) New(name string) (*Agent, error) {
	raw := basePrompt
	switch {
	case r.promptFile != "":
		data, err := os.ReadFile(r.promptFile)
		if err != nil {
			return nil, fmt.Errorf("read system prompt override: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			raw = string(data)
			logger.Debug("using system prompt override", "path", r.promptFile)
		}
	case r.workspace != "":
		overridePath := filepath.Join(r.workspace, "system_prompt.txt")
		data, err := os.ReadFile(overridePath)
		switch {
		case err == nil && len(bytes.TrimSpace(data)) > 0:
			raw = string(data)
			logger.Debug("using system prompt override", "path", overridePath)
		case err != nil && !os.IsNotExist(err):
			return nil, fmt.Errorf("read system prompt override: %w", err)
		}
	}

	if strings.TrimSpace(name) == "" {
		name = DefaultAgentName
	}
	return NewRawAgent(name, raw), nil
}
