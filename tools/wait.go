package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/provider"
)

// maxWaitSeconds caps a single wait so the model cannot park the loop.
const maxWaitSeconds = 300

// WaitTool pauses the agent loop, typically while a supervised command
// makes progress. The wait is cooperative: an interrupt ends it early.
type WaitTool struct{}

// NewWaitTool creates a new wait tool.
func NewWaitTool() *WaitTool {
	return &WaitTool{}
}

// Def returns the tool definition.
func (t *WaitTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name: NameWait,
			Description: "Wait for the given number of seconds before continuing. Use while a long-running " +
				"command works so you can poll it again later. Maximum 300 seconds per call.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"duration_seconds": map[string]any{
						"type":        "number",
						"description": "How many seconds to wait. Must be positive; capped at 300.",
					},
				},
				"required": []string{"duration_seconds"},
			},
		},
	}
}

type waitArgs struct {
	DurationSeconds any `json:"duration_seconds"`
}

// Run executes the tool.
func (t *WaitTool) Run(ctx context.Context, args json.RawMessage) string {
	var a waitArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}
	if a.DurationSeconds == nil {
		return "Error: 'duration_seconds' argument is missing for wait tool."
	}

	seconds, ok := toSeconds(a.DurationSeconds)
	if !ok {
		return "Error: 'duration_seconds' must be a valid number."
	}
	if seconds <= 0 {
		return "Error: 'duration_seconds' must be a positive number."
	}
	if seconds > maxWaitSeconds {
		logger.Debug("wait capped", "requested", seconds, "capSec", maxWaitSeconds)
		seconds = maxWaitSeconds
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Sprintf("Wait operation interrupted by user after approximately %.1f seconds.", time.Since(start).Seconds())
	case <-timer.C:
		return fmt.Sprintf("Successfully waited for %g seconds.", seconds)
	}
}

func toSeconds(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
