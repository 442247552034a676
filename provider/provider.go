// Package provider defines the LLM provider interface and common types.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Stop reasons reported in Response.StopReason. Providers map their native
// vocabulary onto these values.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Provider is the interface for LLM providers.
type Provider interface {
	// Name returns the registered provider name.
	Name() string
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a chat completion request.
type Request struct {
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature float64

	// OnDelta, when non-nil, receives assistant text fragments as they
	// arrive from the wire. The complete text is still returned in
	// Response.Content. Tool call fragments are never delivered here.
	OnDelta func(text string)
}

// Message represents a chat message in OpenAI format (internal canonical format).
type Message struct {
	Role       string     `json:"role"`                   // system, user, assistant, tool
	Content    string     `json:"content,omitempty"`      // text content
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // for assistant messages
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool result messages
	Name       string     `json:"name,omitempty"`         // tool name for tool results
}

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall represents a function call within a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// Response represents a chat completion response.
type Response struct {
	Content    string     // final text response
	ToolCalls  []ToolCall // tool calls (if any)
	StopReason string     // end_turn, tool_use, max_tokens
	Usage      Usage      // token usage
}

// HasToolCalls returns true if the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Truncated returns true if the response was cut off by the output token limit.
func (r *Response) Truncated() bool {
	return r.StopReason == StopMaxTokens
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolDef defines a tool for the LLM (OpenAI function calling format).
type ToolDef struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef defines a function that the model can call.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ProviderConstructor builds a provider for the requested model/runtime settings.
type ProviderConstructor func(apiKey, apiBase, modelName string, maxTokens int, temperature float64) Provider

// ProviderRegistration defines metadata and constructor for a provider.
type ProviderRegistration struct {
	// Models lists known model names. The first entry is the default.
	Models []string
	// OpenModels accepts any non-empty model name in addition to Models.
	// Local runtimes serve whatever model the user has loaded.
	OpenModels bool
	// KeyOptional marks providers that work without an API key.
	KeyOptional bool
	// EnvKey and EnvBase name the environment variables consulted when
	// the config leaves the credential or base URL empty.
	EnvKey      string
	EnvBase     string
	Constructor ProviderConstructor
}

var providerRegistry = map[string]ProviderRegistration{}

// RegisterProvider registers provider metadata and constructor.
func RegisterProvider(name string, reg ProviderRegistration) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	models := make([]string, 0, len(reg.Models))
	for _, model := range reg.Models {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		models = append(models, model)
	}

	reg.Models = models
	reg.EnvKey = strings.TrimSpace(reg.EnvKey)
	reg.EnvBase = strings.TrimSpace(reg.EnvBase)
	providerRegistry[name] = reg
}

// SupportedProviders returns all supported provider names in sorted order.
func SupportedProviders() []string {
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportedModelsForProvider returns known model names for the given provider.
func SupportedModelsForProvider(providerName string) []string {
	reg, ok := providerRegistry[providerName]
	if !ok {
		return nil
	}
	out := make([]string, len(reg.Models))
	copy(out, reg.Models)
	return out
}

// DefaultModelForProvider returns the first registered model name.
func DefaultModelForProvider(providerName string) string {
	reg, ok := providerRegistry[providerName]
	if !ok || len(reg.Models) == 0 {
		return ""
	}
	return reg.Models[0]
}

// ValidateProviderModel checks if a model name is valid for a provider.
func ValidateProviderModel(providerName, model string) error {
	reg, ok := providerRegistry[providerName]
	if !ok {
		return errors.New("unknown provider: " + providerName)
	}

	if model == "" {
		return errors.New("provider " + providerName + " requires a model name")
	}
	if reg.OpenModels {
		return nil
	}

	for _, m := range reg.Models {
		if m == model {
			return nil
		}
	}

	return errors.New("model " + model + " is not supported by provider " + providerName)
}

// NewProvider resolves credentials and constructs the named provider. Config
// values win; empty values fall back to the registration's environment
// variables.
func NewProvider(name, model, apiKey, apiBase string, maxTokens int, temperature float64) (Provider, error) {
	reg, ok := providerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}

	if model == "" {
		model = DefaultModelForProvider(name)
	}
	if err := ValidateProviderModel(name, model); err != nil {
		return nil, err
	}

	if apiKey == "" && reg.EnvKey != "" {
		apiKey = os.Getenv(reg.EnvKey)
	}
	if apiBase == "" && reg.EnvBase != "" {
		apiBase = os.Getenv(reg.EnvBase)
	}
	if apiKey == "" && !reg.KeyOptional {
		return nil, fmt.Errorf("provider %q requires an API key: set providers.%s.apiKey in the config or export %s", name, name, reg.EnvKey)
	}

	return reg.Constructor(apiKey, apiBase, model, maxTokens, temperature), nil
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// AssistantMessageWithTools creates an assistant message with tool calls.
func AssistantMessageWithTools(content string, toolCalls []ToolCall) Message {
	return Message{Role: "assistant", Content: content, ToolCalls: toolCalls}
}

// ToolResultMessage creates a tool result message.
func ToolResultMessage(toolCallID, name, content string) Message {
	return Message{Role: "tool", ToolCallID: toolCallID, Name: name, Content: content}
}
