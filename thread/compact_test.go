package thread

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/maddsec/kalibot/provider"
)

// bulky returns text that safely estimates above 100 tokens.
func bulky() string {
	return strings.Repeat("alpha beta gamma delta epsilon zeta ", 64)
}

func TestMaybeCompactIdentityBelowLimit(t *testing.T) {
	fake := &fakeProvider{}
	c := NewCompactor(fake, Budget{SoftLimitTokens: 100000, SummaryTargetTokens: 512, MinKeepMessages: 4})

	history := []provider.Message{
		provider.UserMessage("hello"),
		provider.AssistantMessage("hi"),
		provider.UserMessage("how are you"),
	}

	got, err := c.MaybeCompact(context.Background(), history)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}
	if len(got) != len(history) || &got[0] != &history[0] {
		t.Fatalf("expected the input slice back unchanged, got %d messages", len(got))
	}
	if len(fake.requests) != 0 {
		t.Fatalf("expected no summarization call below the limit, got %d", len(fake.requests))
	}
}

func TestMaybeCompactStructure(t *testing.T) {
	fake := &fakeProvider{
		responses: []*provider.Response{
			{Content: "the summary", StopReason: provider.StopEndTurn},
		},
	}
	c := NewCompactor(fake, Budget{SoftLimitTokens: 100, SummaryTargetTokens: 512, MinKeepMessages: 4})

	history := []provider.Message{
		provider.UserMessage(bulky()),
		provider.AssistantMessage(bulky()),
		provider.UserMessage(bulky()),
		provider.AssistantMessage(bulky()),
		provider.UserMessage("recent question"),
		provider.AssistantMessage("recent answer"),
		provider.UserMessage("latest question"),
		provider.AssistantMessage("latest answer"),
	}

	got, err := c.MaybeCompact(context.Background(), history)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len(got) = %d, want 5 (summary + last 4)", len(got))
	}
	if got[0].Role != "system" {
		t.Fatalf("got[0].Role = %q, want system", got[0].Role)
	}
	if want := summaryPrefix + "the summary"; got[0].Content != want {
		t.Fatalf("got[0].Content = %q, want %q", got[0].Content, want)
	}
	if !reflect.DeepEqual(got[1:], history[4:]) {
		t.Fatalf("tail mismatch: got %+v, want %+v", got[1:], history[4:])
	}

	if len(fake.requests) != 1 {
		t.Fatalf("expected one summarization call, got %d", len(fake.requests))
	}
	req := fake.requests[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("unexpected summarization request shape: %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "approximately 512 tokens") {
		t.Errorf("summarization prompt missing target: %q", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[1].Content, "alpha beta gamma") {
		t.Errorf("summarization input missing prefix content")
	}
	if req.MaxTokens != 768 {
		t.Errorf("summarization MaxTokens = %d, want 768", req.MaxTokens)
	}
}

func TestMaybeCompactIdempotent(t *testing.T) {
	fake := &fakeProvider{
		responses: []*provider.Response{
			{Content: "compressed history", StopReason: provider.StopEndTurn},
		},
	}
	c := NewCompactor(fake, Budget{SoftLimitTokens: 100, SummaryTargetTokens: 512, MinKeepMessages: 3})

	history := []provider.Message{
		provider.UserMessage(bulky()),
		provider.AssistantMessage(bulky()),
		provider.UserMessage("a"),
		provider.AssistantMessage("b"),
		provider.UserMessage("c"),
	}

	once, err := c.MaybeCompact(context.Background(), history)
	if err != nil {
		t.Fatalf("first MaybeCompact() error = %v", err)
	}
	twice, err := c.MaybeCompact(context.Background(), once)
	if err != nil {
		t.Fatalf("second MaybeCompact() error = %v", err)
	}
	if len(twice) != len(once) || &twice[0] != &once[0] {
		t.Fatal("second MaybeCompact should be a no-op on compacted history")
	}
	if len(fake.requests) != 1 {
		t.Fatalf("expected exactly one summarization call, got %d", len(fake.requests))
	}
}

func TestMaybeCompactBudgetError(t *testing.T) {
	fake := &fakeProvider{}
	c := NewCompactor(fake, Budget{SoftLimitTokens: 100, SummaryTargetTokens: 512, MinKeepMessages: 3})

	history := []provider.Message{
		provider.UserMessage(bulky()),
		provider.AssistantMessage(bulky()),
		provider.UserMessage("small"),
		provider.AssistantMessage(bulky()),
		provider.UserMessage("small"),
	}

	_, err := c.MaybeCompact(context.Background(), history)
	if !errors.Is(err, ErrBudgetConfig) {
		t.Fatalf("MaybeCompact() error = %v, want ErrBudgetConfig", err)
	}
	if len(fake.requests) != 0 {
		t.Fatal("budget errors must be detected before any model call")
	}
}

func TestMaybeCompactKeepsToolPairTogether(t *testing.T) {
	fake := &fakeProvider{
		responses: []*provider.Response{
			{Content: "summary", StopReason: provider.StopEndTurn},
		},
	}
	c := NewCompactor(fake, Budget{SoftLimitTokens: 100, SummaryTargetTokens: 512, MinKeepMessages: 3})

	withCall := provider.AssistantMessageWithTools("running it", []provider.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: provider.FunctionCall{Name: "command_line", Arguments: `{"command":"ls"}`},
	}})
	history := []provider.Message{
		provider.UserMessage(bulky()),
		provider.AssistantMessage(bulky()),
		withCall,
		provider.ToolResultMessage("call_1", "command_line", "listing"),
		provider.UserMessage("next"),
		provider.AssistantMessage("done"),
	}

	// The naive cut at len-3 would start the tail at the tool result,
	// splitting it from its call. The boundary must move earlier.
	got, err := c.MaybeCompact(context.Background(), history)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len(got) = %d, want 5 (summary + widened tail of 4)", len(got))
	}
	if !reflect.DeepEqual(got[1], withCall) {
		t.Fatalf("got[1] = %+v, want the assistant tool call message", got[1])
	}
	if got[2].Role != "tool" || got[2].ToolCallID != "call_1" {
		t.Fatalf("got[2] = %+v, want the paired tool result", got[2])
	}
}

func TestMaybeCompactSummarizeFailure(t *testing.T) {
	boom := errors.New("stream reset")
	fake := &fakeProvider{chatErr: boom}
	c := NewCompactor(fake, Budget{SoftLimitTokens: 100, SummaryTargetTokens: 512, MinKeepMessages: 3})

	history := []provider.Message{
		provider.UserMessage(bulky()),
		provider.AssistantMessage(bulky()),
		provider.UserMessage("a"),
		provider.AssistantMessage("b"),
		provider.UserMessage("c"),
	}

	got, err := c.MaybeCompact(context.Background(), history)
	if !errors.Is(err, boom) {
		t.Fatalf("MaybeCompact() error = %v, want wrapped %v", err, boom)
	}
	if errors.Is(err, ErrBudgetConfig) {
		t.Fatal("transport failure must not look like a budget error")
	}
	if got != nil {
		t.Fatalf("got = %v, want nil on failure", got)
	}
	if len(history) != 5 {
		t.Fatalf("input history mutated: len = %d", len(history))
	}
}

func TestSummaryMaxTokens(t *testing.T) {
	tests := []struct {
		target int
		want   int
	}{
		{100, 500},
		{1000, 1500},
		{3000, 4096},
		{20000, 24000},
	}
	for _, tt := range tests {
		if got := summaryMaxTokens(tt.target); got != tt.want {
			t.Errorf("summaryMaxTokens(%d) = %d, want %d", tt.target, got, tt.want)
		}
	}
}
