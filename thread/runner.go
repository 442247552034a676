package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/provider"
	"github.com/maddsec/kalibot/tools"
)

// truncatedContinue is injected when a reply stops at the output token limit
// without requesting a tool, so the model picks up where it left off.
const truncatedContinue = "Observation: Your previous response was truncated. Please continue."

// fallbackSystemPrompt is used when no agent prompt resolves.
const fallbackSystemPrompt = "You are a helpful AI assistant."

// Tool sets offered to the model by supervisor state. While a process is
// active the model may only feed it, stop it, or wait; starting another
// command or searching is withheld until the slot frees up.
var (
	idleToolNames   = []string{tools.NameCommandLine, tools.NameWebSearch, tools.NameCVESearch, tools.NameWait}
	activeToolNames = []string{tools.NameSendInput, tools.NameTerminateCommand, tools.NameWait}
)

// Run executes one conversation turn: it appends the user input, then loops
// model request -> tool dispatch until the model answers without a tool call.
// The final prose returns to the caller; ErrInterrupted reports a turn the
// user aborted.
func (t *Thread) Run(ctx context.Context, userInput string) (string, error) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return "", nil
	}

	systemPrompt := t.buildSystemPrompt()
	runCtx := tools.WithRuntimeContext(ctx, tools.RuntimeContext{
		SessionKey: t.sessionKey,
		Workspace:  t.workspace,
	})

	userMsg := provider.UserMessage(userInput)
	t.history = append(t.history, userMsg)
	// Write-ahead: the user input survives a crash during the model call.
	t.persist()

	progress := false
	var final strings.Builder
	for {
		if t.interrupts != nil && t.interrupts.Interrupted() {
			return t.interrupted(progress)
		}

		compactCtx, cancelCompact := t.guard(runCtx)
		compacted, err := t.compactor.MaybeCompact(compactCtx, t.history)
		cancelCompact()
		if err != nil {
			if t.interrupts != nil && t.interrupts.Interrupted() {
				return t.interrupted(progress)
			}
			return "", err
		}
		t.history = compacted

		start := time.Now()
		reqCtx, cancelReq := t.guard(runCtx)
		resp, err := t.provider.Chat(reqCtx, &provider.Request{
			Messages:    t.requestMessages(systemPrompt),
			Tools:       t.toolDefs(),
			MaxTokens:   t.maxTokens,
			Temperature: t.temperature,
			OnDelta:     t.onDelta,
		})
		cancelReq()
		if err != nil {
			// An aborted stream leaves no trace: partial text is
			// discarded and nothing was appended for this attempt.
			if t.interrupts != nil && t.interrupts.Interrupted() {
				return t.interrupted(progress)
			}
			return "", fmt.Errorf("provider error: %w", err)
		}
		logger.Debug("model reply",
			"stopReason", resp.StopReason,
			"toolCalls", len(resp.ToolCalls),
			"latencyMs", time.Since(start).Milliseconds())

		if !resp.HasToolCalls() {
			if resp.Content != "" {
				t.history = append(t.history, provider.AssistantMessage(resp.Content))
				progress = true
				final.WriteString(resp.Content)
			}
			if resp.Truncated() {
				logger.Info("reply truncated at max tokens, continuing")
				t.history = append(t.history, provider.UserMessage(truncatedContinue))
				continue
			}
			t.persist()
			return final.String(), nil
		}

		// The reply requested a tool; any prose so far was preamble, not
		// the final answer.
		final.Reset()

		honored := resp.ToolCalls[0]
		for _, dropped := range resp.ToolCalls[1:] {
			logger.Warn("dropping extra tool call", "tool", dropped.Function.Name, "id", dropped.ID)
		}
		t.history = append(t.history, provider.AssistantMessageWithTools(resp.Content, []provider.ToolCall{honored}))
		progress = true

		toolCtx, cancelTool := t.guard(runCtx)
		result := t.tools.Run(toolCtx, honored.Function.Name, json.RawMessage(honored.Function.Arguments))
		cancelTool()
		if strings.HasPrefix(result, "Error:") {
			logger.Error("tool error", "tool", honored.Function.Name, "err", result)
		}
		t.history = append(t.history, provider.ToolResultMessage(honored.ID, honored.Function.Name, result))
	}
}

// interrupted unwinds an aborted turn. Before any durable progress the
// pending user message is removed as well, so the turn leaves history
// exactly as it found it.
func (t *Thread) interrupted(progress bool) (string, error) {
	if !progress {
		if n := len(t.history); n > 0 && t.history[n-1].Role == "user" {
			t.history = t.history[:n-1]
		}
	}
	t.persist()
	return "", ErrInterrupted
}

// guard derives a request context canceled on the first interrupt.
func (t *Thread) guard(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.interrupts == nil {
		return context.WithCancel(ctx)
	}
	return t.interrupts.Context(ctx)
}

// requestMessages prepends the system prompt to the history.
func (t *Thread) requestMessages(systemPrompt string) []provider.Message {
	messages := make([]provider.Message, 0, len(t.history)+1)
	messages = append(messages, provider.SystemMessage(systemPrompt))
	messages = append(messages, t.history...)
	return messages
}

// toolDefs returns the definitions legal in the supervisor's current state.
func (t *Thread) toolDefs() []provider.ToolDef {
	if t.supervisor != nil && t.supervisor.Active() {
		return t.tools.DefsFor(activeToolNames)
	}
	return t.tools.DefsFor(idleToolNames)
}

func (t *Thread) buildSystemPrompt() string {
	systemPrompt := ""
	if t.agent != nil {
		t.agent.Set("TIME", time.Now())
		t.agent.Set("TOOLS", t.tools.Names())
		t.agent.Set("PLAYBOOKS", t.buildPlaybooksSection())
		systemPrompt = t.agent.Build()
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = fallbackSystemPrompt
	}
	return systemPrompt
}

func (t *Thread) buildPlaybooksSection() string {
	if t.playbooks == nil {
		return ""
	}
	if t.playbooksDir != "" {
		if err := t.playbooks.ReloadFromDirectory(t.playbooksDir); err != nil {
			logger.Warn("failed to reload playbooks", "dir", t.playbooksDir, "err", err)
		}
	}
	return t.playbooks.BuildPromptSection()
}

// persist mirrors the in-memory history into the session file. Compaction
// rewrites the prefix, so messages are replaced wholesale rather than
// appended.
func (t *Thread) persist() {
	if t.sessions == nil {
		return
	}
	sess, err := t.sessions.Get(t.sessionKey)
	if err != nil {
		logger.Warn("failed to load session for save", "key", t.sessionKey, "err", err)
		return
	}
	sess.Messages = t.history
	if err := t.sessions.Save(sess); err != nil {
		logger.Warn("failed to save session", "key", t.sessionKey, "err", err)
	}
}
