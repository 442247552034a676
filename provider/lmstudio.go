package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	oaioption "github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/maddsec/kalibot/logger"
)

const (
	defaultLMStudioBaseURL = "http://localhost:1234/v1"

	toolCallStartTag = "<tool_call>"
	toolCallEndTag   = "</tool_call>"
)

func init() {
	RegisterProvider("lmstudio", ProviderRegistration{
		Models:      []string{"local-model"},
		OpenModels:  true,
		KeyOptional: true,
		EnvKey:      "LM_STUDIO_API_KEY",
		EnvBase:     "LM_STUDIO_API_BASE",
		Constructor: func(apiKey, apiBase, modelName string, maxTokens int, temperature float64) Provider {
			return newLMStudioProvider(apiKey, apiBase, modelName, maxTokens, temperature)
		},
	})
}

// lmStudioProvider talks to an LM Studio server (or any OpenAI-compatible
// endpoint). Local models rarely support native function calling, so tools
// ride a text protocol: definitions go into the system prompt and the model
// answers with <tool_call>{"tool_name": ..., "arguments": {...}}</tool_call>
// blocks that are parsed out of the stream.
type lmStudioProvider struct {
	modelName   string
	maxTokens   int
	temperature float64
	client      openai.Client
}

func newLMStudioProvider(apiKey, apiBase, modelName string, maxTokens int, temperature float64) *lmStudioProvider {
	base := normalizeSDKBaseURL(apiBase, defaultLMStudioBaseURL, "/chat/completions")
	if apiKey == "" {
		// The SDK insists on a bearer token; the local server ignores it.
		apiKey = "lm-studio"
	}
	return &lmStudioProvider{
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		client: openai.NewClient(
			oaioption.WithAPIKey(apiKey),
			oaioption.WithBaseURL(base),
			oaioption.WithMaxRetries(sdkMaxRetries),
		),
	}
}

func (p *lmStudioProvider) Name() string { return "lmstudio" }

func (p *lmStudioProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	protocol := toolProtocolSection(req.Tools)
	msgs := toLMStudioMessages(req.Messages, protocol)

	chatReq := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.modelName),
		Messages: msgs,
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		chatReq.MaxTokens = openai.Int(int64(maxTokens))
	}
	chatReq.Temperature = openai.Float(p.temperature)
	chatReq.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	logger.Info("lmstudio chat request",
		"model", p.modelName,
		"messages", len(msgs),
		"tools", len(req.Tools),
		"inputChars", chatInputChars(req.Messages))

	stream := p.client.Chat.Completions.NewStreaming(ctx, chatReq)
	defer stream.Close()

	scanner := &tagScanner{}
	var content strings.Builder
	var usage Usage
	finish := ""

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				visible := scanner.feed(choice.Delta.Content)
				if visible != "" {
					content.WriteString(visible)
					if req.OnDelta != nil {
						req.OnDelta(visible)
					}
				}
			}
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("lmstudio stream: %w", err)
	}
	if tail := scanner.finish(); tail != "" {
		content.WriteString(tail)
		if req.OnDelta != nil {
			req.OnDelta(tail)
		}
	}

	stopReason := StopEndTurn
	switch {
	case finish == "length":
		stopReason = StopMaxTokens
	case len(scanner.calls) > 0:
		stopReason = StopToolUse
	}

	logger.Info("lmstudio chat response",
		"model", p.modelName,
		"latencyMs", time.Since(start).Milliseconds(),
		"contentChars", content.Len(),
		"toolCalls", len(scanner.calls),
		"stopReason", stopReason,
		"promptTokens", usage.PromptTokens,
		"completionTokens", usage.CompletionTokens)

	return &Response{
		Content:    strings.TrimSpace(content.String()),
		ToolCalls:  scanner.calls,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

// normalizeSDKBaseURL returns the base URL for an OpenAI-compatible SDK
// client. Users often paste the full completions endpoint; the SDK wants
// the API root.
func normalizeSDKBaseURL(apiBase, defaultBase, endpointSuffix string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = defaultBase
	}
	base = strings.TrimRight(base, "/")
	if endpointSuffix != "" {
		base = strings.TrimSuffix(base, endpointSuffix)
		base = strings.TrimRight(base, "/")
	}
	return base
}

func chatInputChars(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Role) + len(m.Content)
	}
	return total
}

// toLMStudioMessages re-renders canonical history for a runtime without
// native tool calling. Assistant tool calls become protocol tags, tool
// results become user observations, and only the first system message keeps
// the system slot.
func toLMStudioMessages(messages []Message, protocol string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	sawSystem := false

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if !sawSystem {
				content := msg.Content
				if protocol != "" {
					content += "\n\n" + protocol
				}
				out = append(out, openai.SystemMessage(content))
				sawSystem = true
			} else {
				// Later system entries (compaction summaries) ride as
				// user turns; local runtimes honor one system slot.
				out = append(out, openai.UserMessage(msg.Content))
			}
		case "user":
			out = append(out, openai.UserMessage(msg.Content))
		case "assistant":
			content := msg.Content
			for _, tc := range msg.ToolCalls {
				if content != "" {
					content += "\n"
				}
				content += renderToolCallTag(tc)
			}
			if content != "" {
				out = append(out, openai.AssistantMessage(content))
			}
		case "tool":
			out = append(out, openai.UserMessage(fmt.Sprintf("Observation for tool '%s':\n%s", msg.Name, msg.Content)))
		}
	}

	if !sawSystem && protocol != "" {
		out = append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(protocol)}, out...)
	}
	return out
}

func renderToolCallTag(tc ToolCall) string {
	args := tc.Function.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	return fmt.Sprintf("%s{\"tool_name\": %q, \"arguments\": %s}%s", toolCallStartTag, tc.Function.Name, args, toolCallEndTag)
}

// toolProtocolSection renders tool definitions and calling instructions for
// the system prompt.
func toolProtocolSection(defs []ToolDef) string {
	if len(defs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Tool Calling Protocol\n\n")
	b.WriteString("You have access to the following tools:\n\n")
	for _, def := range defs {
		fn := def.Function
		fmt.Fprintf(&b, "### %s\n%s\n", fn.Name, fn.Description)
		if schema, err := json.Marshal(fn.Parameters); err == nil {
			fmt.Fprintf(&b, "Parameters (JSON Schema): %s\n", schema)
		}
		b.WriteString("\n")
	}
	b.WriteString("To call a tool, finish your reply with exactly one block in this format:\n\n")
	b.WriteString(`<tool_call>{"tool_name": "<name>", "arguments": {<parameters>}}</tool_call>`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Emit at most one tool call per reply.\n")
	b.WriteString("- The arguments value must be a single valid JSON object.\n")
	b.WriteString("- Do not wrap the block in code fences.\n")
	b.WriteString("- When no tool is needed, answer directly without any tool_call block.\n")
	return b.String()
}

// tagScanner extracts tool call blocks from streamed text. Text before the
// first start tag is visible prose; everything from that tag on is protocol
// traffic and is never surfaced. Tags may split across chunk boundaries, so
// a possible partial start tag is held back until resolved.
type tagScanner struct {
	pending    string
	inCall     bool
	sawCallTag bool
	calls      []ToolCall
}

// feed consumes one chunk and returns the text that became safe to display.
func (s *tagScanner) feed(chunk string) string {
	s.pending += chunk
	var visible strings.Builder

	for {
		if s.inCall {
			end := strings.Index(s.pending, toolCallEndTag)
			if end < 0 {
				return visible.String()
			}
			s.appendCall(s.pending[:end])
			s.pending = s.pending[end+len(toolCallEndTag):]
			s.inCall = false
			continue
		}

		start := strings.Index(s.pending, toolCallStartTag)
		if start >= 0 {
			if !s.sawCallTag {
				visible.WriteString(s.pending[:start])
				s.sawCallTag = true
			}
			s.pending = s.pending[start+len(toolCallStartTag):]
			s.inCall = true
			continue
		}

		if s.sawCallTag {
			// Prose between or after call blocks is dropped.
			return visible.String()
		}
		hold := overlapLen(s.pending, toolCallStartTag)
		visible.WriteString(s.pending[:len(s.pending)-hold])
		s.pending = s.pending[len(s.pending)-hold:]
		return visible.String()
	}
}

// finish flushes any held-back text once the stream ends.
func (s *tagScanner) finish() string {
	defer func() { s.pending = "" }()
	if s.inCall {
		logger.Warn("unterminated tool_call tag in model output", "pendingChars", len(s.pending))
		return ""
	}
	if s.sawCallTag {
		return ""
	}
	return s.pending
}

func (s *tagScanner) appendCall(raw string) {
	var parsed struct {
		ToolName  string          `json:"tool_name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.ToolName == "" {
		logger.Warn("malformed tool_call payload", "error", err, "chars", len(raw))
		return
	}
	args := strings.TrimSpace(string(parsed.Arguments))
	if args == "" || args == "null" {
		args = "{}"
	}
	s.calls = append(s.calls, ToolCall{
		ID:   fmt.Sprintf("call_%d_%d", time.Now().UnixNano(), len(s.calls)+1),
		Type: "function",
		Function: FunctionCall{
			Name:      parsed.ToolName,
			Arguments: args,
		},
	})
}

// overlapLen reports the length of the longest suffix of s that is a proper
// prefix of tag.
func overlapLen(s, tag string) int {
	maxLen := len(tag) - 1
	if maxLen > len(s) {
		maxLen = len(s)
	}
	for k := maxLen; k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}
