package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/maddsec/kalibot/provider"
)

type stubTool struct {
	name   string
	result string
}

func (s *stubTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type:     "function",
		Function: provider.FunctionDef{Name: s.name},
	}
}

func (s *stubTool) Run(_ context.Context, _ json.RawMessage) string {
	return s.result
}

func TestRegistryRunUnknownTool(t *testing.T) {
	r := NewRegistry()
	got := r.Run(context.Background(), "nmap", nil)
	want := "Error: Tool 'nmap' not found."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}

func TestRegistryRegisterAndRun(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "alpha", result: "alpha ran"})

	if got := r.Run(context.Background(), "alpha", nil); got != "alpha ran" {
		t.Errorf("Run() = %q, want %q", got, "alpha ran")
	}
	if _, ok := r.Get("alpha"); !ok {
		t.Error("Get() did not find a registered tool")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "zeta"})
	r.Register(&stubTool{name: "alpha"})
	r.Register(&stubTool{name: "mid"})

	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}

func TestDefsForKeepsOrderAndSkipsUnknown(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "send_input"})
	r.Register(&stubTool{name: "terminate_command"})

	defs := r.DefsFor([]string{"terminate_command", "web_search", "send_input"})
	if len(defs) != 2 {
		t.Fatalf("DefsFor() returned %d defs, want 2", len(defs))
	}
	if defs[0].Function.Name != "terminate_command" || defs[1].Function.Name != "send_input" {
		t.Errorf("DefsFor() order = [%s, %s], want the requested order",
			defs[0].Function.Name, defs[1].Function.Name)
	}
}

func TestParseArgsInvalidJSON(t *testing.T) {
	var v struct{}
	got := parseArgs(json.RawMessage(`{"command":`), &v)
	if !strings.HasPrefix(got, "Error: invalid arguments:") {
		t.Errorf("parseArgs() = %q, want an invalid-arguments error", got)
	}
}

func TestTruncateWithNotice(t *testing.T) {
	short, truncated := truncateWithNotice("small output", 100)
	if truncated || short != "small output" {
		t.Errorf("truncateWithNotice(short) = (%q, %v), want unchanged", short, truncated)
	}

	content := strings.Repeat("A", 600) + strings.Repeat("Z", 600)
	got, truncated := truncateWithNotice(content, 200)
	if !truncated {
		t.Fatal("truncateWithNotice() did not report truncation")
	}
	if !strings.Contains(got, "... [truncated 1000 characters] ...") {
		t.Errorf("marker missing or wrong: %q", got)
	}
	if !strings.HasPrefix(got, "AAAA") {
		t.Errorf("head not preserved: %q", got[:20])
	}
	if !strings.HasSuffix(got, "ZZZZ") {
		t.Errorf("tail not preserved: %q", got[len(got)-20:])
	}

	unbounded, truncated := truncateWithNotice(content, 0)
	if truncated || unbounded != content {
		t.Error("maxChars <= 0 must disable truncation")
	}
}
