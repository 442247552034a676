package provider

import (
	"strings"
	"testing"
)

func TestSupportedProviders(t *testing.T) {
	names := SupportedProviders()
	t.Logf("registered providers: %v", names)

	found := map[string]bool{}
	for _, name := range names {
		found[name] = true
	}
	if !found["anthropic"] || !found["lmstudio"] {
		t.Errorf("SupportedProviders() = %v, want anthropic and lmstudio registered", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("SupportedProviders() not sorted: %v", names)
		}
	}
}

func TestDefaultModelForProvider(t *testing.T) {
	if got := DefaultModelForProvider("anthropic"); got != "claude-sonnet-4-5" {
		t.Errorf("DefaultModelForProvider(anthropic) = %q, want claude-sonnet-4-5", got)
	}
	if got := DefaultModelForProvider("lmstudio"); got != "local-model" {
		t.Errorf("DefaultModelForProvider(lmstudio) = %q, want local-model", got)
	}
	if got := DefaultModelForProvider("nope"); got != "" {
		t.Errorf("DefaultModelForProvider(nope) = %q, want empty", got)
	}
}

func TestValidateProviderModel(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		wantErr  bool
	}{
		{"unknown provider", "nope", "claude-sonnet-4-5", true},
		{"empty model", "anthropic", "", true},
		{"unsupported model", "anthropic", "gpt-4", true},
		{"known model", "anthropic", "claude-opus-4-1", false},
		{"open models accept anything", "lmstudio", "qwen2.5-coder-14b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProviderModel(tt.provider, tt.model)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProviderModel(%q, %q) error = %v, wantErr %v", tt.provider, tt.model, err, tt.wantErr)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider("nope", "", "", "", 0, 1.0)
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("NewProvider(nope) error = %v, want unknown-provider error", err)
	}
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ANTHROPIC_BASE_URL", "")

	_, err := NewProvider("anthropic", "", "", "", 0, 1.0)
	if err == nil || !strings.Contains(err.Error(), "requires an API key") {
		t.Errorf("NewProvider(anthropic, no key) error = %v, want missing-key error", err)
	}
	if err != nil && !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("missing-key error does not name the env var: %v", err)
	}
}

func TestNewProviderEnvKeyFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("ANTHROPIC_BASE_URL", "")

	p, err := NewProvider("anthropic", "", "", "", 0, 1.0)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
	ap, ok := p.(*anthropicProvider)
	if !ok {
		t.Fatalf("NewProvider() returned %T, want *anthropicProvider", p)
	}
	if ap.modelName != "claude-sonnet-4-5" {
		t.Errorf("empty model resolved to %q, want the provider default", ap.modelName)
	}
}

func TestNewProviderKeyOptional(t *testing.T) {
	t.Setenv("LM_STUDIO_API_KEY", "")
	t.Setenv("LM_STUDIO_API_BASE", "")

	p, err := NewProvider("lmstudio", "", "", "", 0, 1.0)
	if err != nil {
		t.Fatalf("NewProvider(lmstudio, no key) error = %v, want key to be optional", err)
	}
	if p.Name() != "lmstudio" {
		t.Errorf("Name() = %q, want lmstudio", p.Name())
	}
	lp, ok := p.(*lmStudioProvider)
	if !ok {
		t.Fatalf("NewProvider() returned %T, want *lmStudioProvider", p)
	}
	if lp.modelName != "local-model" {
		t.Errorf("empty model resolved to %q, want local-model", lp.modelName)
	}
}

func TestResponseHelpers(t *testing.T) {
	resp := &Response{StopReason: StopEndTurn}
	if resp.HasToolCalls() {
		t.Error("HasToolCalls() = true for a response without tool calls")
	}
	if resp.Truncated() {
		t.Error("Truncated() = true for an end_turn response")
	}

	resp = &Response{
		StopReason: StopMaxTokens,
		ToolCalls:  []ToolCall{{ID: "call_1", Type: "function"}},
	}
	if !resp.HasToolCalls() {
		t.Error("HasToolCalls() = false for a response with tool calls")
	}
	if !resp.Truncated() {
		t.Error("Truncated() = false for a max_tokens response")
	}
}

func TestMessageConstructors(t *testing.T) {
	msg := ToolResultMessage("call_7", "web_search", "No results found.")
	if msg.Role != "tool" || msg.ToolCallID != "call_7" || msg.Name != "web_search" {
		t.Errorf("ToolResultMessage() = %+v, want tool role with id and name set", msg)
	}
	if got := SystemMessage("rules").Role; got != "system" {
		t.Errorf("SystemMessage().Role = %q, want system", got)
	}
	if got := AssistantMessage("hi").Role; got != "assistant" {
		t.Errorf("AssistantMessage().Role = %q, want assistant", got)
	}
}
