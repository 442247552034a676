package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/maddsec/kalibot/logger"
)

// sdkMaxRetries caps transport-level retries inside the SDK clients. The
// agent loop itself never retries a failed request.
const sdkMaxRetries = 2

func init() {
	RegisterProvider("anthropic", ProviderRegistration{
		Models: []string{
			"claude-sonnet-4-5",
			"claude-opus-4-1",
			"claude-haiku-4-5",
			"claude-3-7-sonnet-latest",
		},
		EnvKey:  "ANTHROPIC_API_KEY",
		EnvBase: "ANTHROPIC_BASE_URL",
		Constructor: func(apiKey, apiBase, modelName string, maxTokens int, temperature float64) Provider {
			return newAnthropicProvider(apiKey, apiBase, modelName, maxTokens, temperature)
		},
	})
}

type anthropicProvider struct {
	modelName   string
	maxTokens   int
	temperature float64
	client      anthropic.Client
}

func newAnthropicProvider(apiKey, apiBase, modelName string, maxTokens int, temperature float64) *anthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(sdkMaxRetries),
	}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &anthropicProvider{
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      anthropic.NewClient(opts...),
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

// Chat streams one completion from the Messages API. Text deltas are fanned
// out to req.OnDelta as they arrive; tool call arguments are accumulated and
// only returned once the stream ends.
func (p *anthropicProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.modelName),
		MaxTokens:   int64(p.maxTokens),
		Messages:    toAnthropicMessages(req.Messages),
		Temperature: param.NewOpt(p.temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if sys := anthropicSystemBlocks(req.Messages); len(sys) > 0 {
		params.System = sys
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	logger.Info("anthropic chat request",
		"model", p.modelName,
		"messages", len(params.Messages),
		"tools", len(params.Tools))

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var content strings.Builder
	var toolCalls []ToolCall
	var usage Usage
	stopReason := ""

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolCalls = append(toolCalls, ToolCall{
					ID:   block.ID,
					Type: "function",
					Function: FunctionCall{
						Name: block.Name,
					},
				})
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				content.WriteString(delta.Text)
				if req.OnDelta != nil {
					req.OnDelta(delta.Text)
				}
			case anthropic.InputJSONDelta:
				if n := len(toolCalls); n > 0 {
					toolCalls[n-1].Function.Arguments += delta.PartialJSON
				}
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				stopReason = string(ev.Delta.StopReason)
			}
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	for i := range toolCalls {
		if toolCalls[i].Function.Arguments == "" {
			toolCalls[i].Function.Arguments = "{}"
		}
	}
	if stopReason == "" {
		stopReason = StopEndTurn
		if len(toolCalls) > 0 {
			stopReason = StopToolUse
		}
	}

	logger.Info("anthropic chat response",
		"model", p.modelName,
		"latencyMs", time.Since(start).Milliseconds(),
		"contentChars", content.Len(),
		"toolCalls", len(toolCalls),
		"stopReason", stopReason,
		"promptTokens", usage.PromptTokens,
		"completionTokens", usage.CompletionTokens)

	return &Response{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

// anthropicSystemBlocks collects system messages for the top-level System
// field. The Messages API does not accept a system role in the turn list.
func anthropicSystemBlocks(messages []Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range messages {
		if msg.Role != "system" {
			continue
		}
		if txt := strings.TrimSpace(msg.Content); txt != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: txt})
		}
	}
	return blocks
}

// toAnthropicMessages converts canonical history into Messages API turns.
// Consecutive tool results are grouped into a single user message because
// every tool_use block must be answered by the immediately following turn.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	// Tracks whether the previous appended turn was an assistant message
	// carrying tool_use blocks. Tool results are only valid right after one.
	pendingToolUse := false

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case "system":
			// Hoisted into params.System.
		case "user":
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
				pendingToolUse = false
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				blocks = append(blocks, anthropic.NewTextBlock(txt))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Function.Name,
						Input: input,
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
				pendingToolUse = len(msg.ToolCalls) > 0
			}
		case "tool":
			var blocks []anthropic.ContentBlockParamUnion
			j := i
			for j < len(messages) && messages[j].Role == "tool" {
				blocks = append(blocks, anthropic.NewToolResultBlock(messages[j].ToolCallID, messages[j].Content, false))
				j++
			}
			// Orphan tool results (for example after a compaction boundary)
			// would make the request invalid, so they are dropped.
			if pendingToolUse && len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
			pendingToolUse = false
			i = j - 1
		}
	}
	return out
}

func toAnthropicTools(defs []ToolDef) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		fn := defs[i].Function
		tp := anthropic.ToolParam{
			Name:        fn.Name,
			Description: anthropic.String(fn.Description),
			InputSchema: toAnthropicSchema(fn.Parameters),
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return tools
}

// toAnthropicSchema splits a JSON schema object into the SDK's input schema
// param. Only object schemas appear in tool definitions.
func toAnthropicSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if props, ok := params["properties"]; ok {
		schema.Properties = props
	}
	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}
