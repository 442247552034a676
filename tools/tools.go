// Package tools provides the tool interface and the built-in tool set the
// agent can dispatch: command execution through the process supervisor, web
// search, CVE lookup, and timed waits.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/provider"
)

// Tool is the interface for agent tools.
type Tool interface {
	// Def returns the tool definition for the LLM.
	Def() provider.ToolDef
	// Run executes the tool with the given arguments and returns the result.
	// Errors are returned as strings (for the LLM to interpret).
	Run(ctx context.Context, args json.RawMessage) string
}

// Registry holds registered tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Def().Function.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns all tool definitions.
func (r *Registry) Defs() []provider.ToolDef {
	return r.DefsFor(r.Names())
}

// DefsFor returns the definitions for the named tools, in order, skipping
// names that are not registered. The orchestrator uses this to offer the
// model only the tools legal in the current process state.
func (r *Registry) DefsFor(names []string) []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Def())
		}
	}
	return defs
}

// Run executes a tool by name.
func (r *Registry) Run(ctx context.Context, name string, args json.RawMessage) string {
	t, ok := r.tools[name]
	if !ok {
		logger.Error("tool not found", "tool", name)
		return fmt.Sprintf("Error: Tool '%s' not found.", name)
	}
	return t.Run(ctx, args)
}

// Names returns the names of all registered tools in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseArgs unmarshals tool arguments into v. A non-empty return value is
// the in-band error string for the model.
func parseArgs(args json.RawMessage, v any) string {
	if len(args) == 0 {
		return ""
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}
	return ""
}

// truncateWithNotice clamps content to maxChars, keeping the head and tail
// around an omission marker.
func truncateWithNotice(content string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(content) <= maxChars {
		return content, false
	}

	omitted := len(content) - maxChars
	marker := fmt.Sprintf("\n\n... [truncated %d characters] ...\n\n", omitted)

	// Budget the marker into the allowed length so total output <= maxChars + marker.
	half := maxChars / 2
	head := content[:half]
	tail := content[len(content)-(maxChars-half):]

	return head + marker + tail, true
}
