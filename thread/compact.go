package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/provider"
	"github.com/maddsec/kalibot/tokens"
)

// ErrBudgetConfig reports a context budget whose protected tail cannot fit
// under the soft limit. That is a configuration problem; compaction can
// never converge, so the caller must stop instead of looping.
var ErrBudgetConfig = errors.New("context budget configuration invalid")

// summaryPrefix marks the synthetic message that replaces compacted history.
const summaryPrefix = "Previous conversation summary: "

// summarySystemPromptFmt is the system prompt of the summarization call.
// %d receives the target token count.
const summarySystemPromptFmt = "You are a summarization expert. Summarize the following conversation concisely, focusing on key facts, decisions, user requests, and outcomes. The summary should be a coherent narrative that captures the essence of the conversation. Aim for a summary that is approximately %d tokens long. Retain critical information, especially unresolved questions or ongoing tasks. Output ONLY the summary text, without any preamble or sign-off."

// Budget holds the token thresholds that drive compaction.
type Budget struct {
	// SoftLimitTokens is the history size that triggers compaction.
	SoftLimitTokens int
	// SummaryTargetTokens is the size the summary should aim for.
	SummaryTargetTokens int
	// MinKeepMessages is how many trailing messages stay verbatim.
	MinKeepMessages int
}

// Compactor folds old history into a model-written summary once the
// conversation grows past the soft token limit.
type Compactor struct {
	provider provider.Provider
	budget   Budget
}

// NewCompactor creates a compactor that summarizes with the given provider.
func NewCompactor(p provider.Provider, b Budget) *Compactor {
	if b.MinKeepMessages < 1 {
		b.MinKeepMessages = 1
	}
	return &Compactor{provider: p, budget: b}
}

// MaybeCompact returns history unchanged while it fits under the soft limit.
// Above it, everything before the protected tail is replaced by a single
// summary message. The input slice is never mutated; on error the caller's
// history is untouched.
func (c *Compactor) MaybeCompact(ctx context.Context, history []provider.Message) ([]provider.Message, error) {
	if tokens.CountMessages(history) <= c.budget.SoftLimitTokens {
		return history, nil
	}

	minKeep := c.budget.MinKeepMessages
	if len(history) <= minKeep {
		return nil, fmt.Errorf("%w: %d messages exceed softLimitTokens=%d but minKeepMessages=%d protects them all",
			ErrBudgetConfig, len(history), c.budget.SoftLimitTokens, minKeep)
	}
	if tokens.CountMessages(history[len(history)-minKeep:]) > c.budget.SoftLimitTokens {
		return nil, fmt.Errorf("%w: the last %d messages alone exceed softLimitTokens=%d",
			ErrBudgetConfig, minKeep, c.budget.SoftLimitTokens)
	}

	// Never cut between an assistant tool call and its result: the tail
	// widens until it does not begin with a tool message. Keeping more
	// than MinKeepMessages is fine, keeping fewer never is.
	cut := len(history) - minKeep
	for cut > 0 && history[cut].Role == "tool" {
		cut--
	}
	if cut == 0 {
		return history, nil
	}

	summary, err := c.summarize(ctx, history[:cut])
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}

	compacted := make([]provider.Message, 0, len(history)-cut+1)
	compacted = append(compacted, provider.SystemMessage(summaryPrefix+summary))
	compacted = append(compacted, history[cut:]...)
	logger.Info("history compacted",
		"before", len(history),
		"after", len(compacted),
		"summaryTokens", tokens.Count(summary))
	return compacted, nil
}

// summarize asks the model to condense the given messages.
func (c *Compactor) summarize(ctx context.Context, prefix []provider.Message) (string, error) {
	target := c.budget.SummaryTargetTokens
	if target <= 0 {
		target = 1024
	}

	resp, err := c.provider.Chat(ctx, &provider.Request{
		Messages: []provider.Message{
			provider.SystemMessage(fmt.Sprintf(summarySystemPromptFmt, target)),
			provider.UserMessage(renderTranscript(prefix)),
		},
		MaxTokens: summaryMaxTokens(target),
	})
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", errors.New("summarization returned no content")
	}
	return summary, nil
}

// summaryMaxTokens gives the summary call headroom above the target without
// letting a tiny target produce an unusable cap.
func summaryMaxTokens(target int) int {
	if target > 4096 {
		return target * 6 / 5
	}
	n := target * 3 / 2
	if n < 500 {
		return 500
	}
	if n > 4096 {
		return 4096
	}
	return n
}

// renderTranscript flattens messages into plain text for the summarization
// prompt.
func renderTranscript(messages []provider.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch {
		case m.Role == "tool":
			fmt.Fprintf(&b, "[tool %s]: %s\n\n", m.Name, m.Content)
		case len(m.ToolCalls) > 0:
			if m.Content != "" {
				fmt.Fprintf(&b, "[%s]: %s\n", m.Role, m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "[%s calls %s]: %s\n", m.Role, tc.Function.Name, tc.Function.Arguments)
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "[%s]: %s\n\n", m.Role, m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
