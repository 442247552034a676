package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/proc"
	"github.com/maddsec/kalibot/provider"
)

// Tool names the orchestrator keys its state-dependent tool sets on.
const (
	NameCommandLine      = "command_line"
	NameSendInput        = "send_input"
	NameTerminateCommand = "terminate_command"
	NameWebSearch        = "web_search"
	NameCVESearch        = "cve_search"
	NameWait             = "wait"
)

// ConfirmFunc asks the user to approve a command before it runs. A nil
// function disables the gate. Interrupting the prompt surfaces as an error.
type ConfirmFunc func(ctx context.Context, command string) (bool, error)

// CommandOptions configures the command execution tools.
type CommandOptions struct {
	// DefaultTimeout applies when the model omits timeout_seconds.
	DefaultTimeout time.Duration
	// MaxOutputChars clamps a single observation.
	MaxOutputChars int
	// Confirm gates command execution on user approval.
	Confirm ConfirmFunc
}

// CommandLineTool starts commands under the process supervisor.
type CommandLineTool struct {
	sup  *proc.Supervisor
	opts CommandOptions
}

// NewCommandLineTool returns the command_line tool bound to a supervisor.
func NewCommandLineTool(sup *proc.Supervisor, opts CommandOptions) *CommandLineTool {
	return &CommandLineTool{sup: sup, opts: opts}
}

func (t *CommandLineTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name: NameCommandLine,
			Description: "Execute a shell command on the system. Long-running or interactive commands are supported: " +
				"if the process is still running when output arrives, you will be told its PID and can send input " +
				"via 'send_input', terminate it with 'terminate_command', or wait using the 'wait' tool.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The shell command to execute.",
					},
					"timeout_seconds": map[string]any{
						"type":        "integer",
						"description": "Optional timeout in seconds. Defaults to the configured command timeout.",
					},
					"initial_input": map[string]any{
						"type":        "string",
						"description": "Optional first line written to the command's stdin right after start.",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}

type commandLineArgs struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	InitialInput   string `json:"initial_input,omitempty"`
}

func (t *CommandLineTool) Run(ctx context.Context, args json.RawMessage) string {
	var a commandLineArgs
	if errStr := parseArgs(args, &a); errStr != "" {
		return errStr
	}
	a.Command = strings.TrimSpace(a.Command)
	if a.Command == "" {
		return "Error: 'command' argument is missing."
	}

	if t.opts.Confirm != nil {
		ok, err := t.opts.Confirm(ctx, a.Command)
		if err != nil {
			return "User interrupted command confirmation."
		}
		if !ok {
			return "User declined command execution."
		}
	}

	timeout := t.opts.DefaultTimeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
	}

	rt := RuntimeContextFrom(ctx)
	logger.Info("running command", "session", rt.SessionKey, "timeoutSec", int(timeout.Seconds()))

	status, err := t.sup.Start(ctx, proc.StartRequest{
		Command:      a.Command,
		Timeout:      timeout,
		InitialInput: a.InitialInput,
	})
	if err != nil {
		if errors.Is(err, proc.ErrAlreadyActive) {
			return fmt.Sprintf("Error: Another command (PID: %d) is still active. You must manage it (send input via 'send_input' or terminate with 'terminate_command') before starting a new command.", status.PID)
		}
		return fmt.Sprintf("Error: failed to start command: %v", err)
	}

	output := clampOutput(status.Output, t.opts.MaxOutputChars)
	switch status.State {
	case proc.StateTimedOut:
		msg := fmt.Sprintf("Error: Command '%s' timed out after %d seconds.", a.Command, int(timeout.Seconds()))
		if output != "" {
			msg += "\n" + output
		}
		return msg
	case proc.StateCompleted:
		return joinOutput(output, fmt.Sprintf("Process finished with exit code: %d", status.ExitCode))
	default:
		return joinOutput(output, fmt.Sprintf("Process is still running (PID: %d). You can send input via 'send_input', terminate it with 'terminate_command', or wait using the 'wait' tool.", status.PID))
	}
}

// SendInputTool writes a line to the active command's stdin.
type SendInputTool struct {
	sup  *proc.Supervisor
	opts CommandOptions
}

// NewSendInputTool returns the send_input tool bound to a supervisor.
func NewSendInputTool(sup *proc.Supervisor, opts CommandOptions) *SendInputTool {
	return &SendInputTool{sup: sup, opts: opts}
}

func (t *SendInputTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name: NameSendInput,
			Description: "Send one line of input to the stdin of the currently running interactive command. " +
				"A newline is appended automatically.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"input": map[string]any{
						"type":        "string",
						"description": "The text to send. An empty string sends a bare newline.",
					},
				},
				"required": []string{"input"},
			},
		},
	}
}

type sendInputArgs struct {
	Input *string `json:"input"`
}

func (t *SendInputTool) Run(ctx context.Context, args json.RawMessage) string {
	var a sendInputArgs
	if errStr := parseArgs(args, &a); errStr != "" {
		return errStr
	}
	if a.Input == nil {
		return "Error: 'input' argument is missing."
	}

	status, err := t.sup.SendInput(ctx, *a.Input)
	if err != nil {
		if errors.Is(err, proc.ErrNoActiveProcess) {
			return "Error: No active interactive command to send input to, or process has ended."
		}
		return fmt.Sprintf("Error: failed to send input: %v", err)
	}

	output := clampOutput(status.Output, t.opts.MaxOutputChars)
	if status.State == proc.StateCompleted {
		return joinOutput(output, fmt.Sprintf("Process finished with exit code: %d", status.ExitCode))
	}
	return joinOutput(output, fmt.Sprintf("Process is still running (PID: %d). You can send more input via 'send_input', terminate it with 'terminate_command', or wait using the 'wait' tool.", status.PID))
}

// TerminateCommandTool ends the active command.
type TerminateCommandTool struct {
	sup  *proc.Supervisor
	opts CommandOptions
}

// NewTerminateCommandTool returns the terminate_command tool bound to a
// supervisor.
func NewTerminateCommandTool(sup *proc.Supervisor, opts CommandOptions) *TerminateCommandTool {
	return &TerminateCommandTool{sup: sup, opts: opts}
}

func (t *TerminateCommandTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        NameTerminateCommand,
			Description: "Terminate the currently running interactive command. Sends SIGTERM, then SIGKILL if it does not exit.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

func (t *TerminateCommandTool) Run(ctx context.Context, args json.RawMessage) string {
	status, err := t.sup.Terminate()
	if err != nil {
		if errors.Is(err, proc.ErrNoActiveProcess) {
			return "No active interactive command to terminate."
		}
		return fmt.Sprintf("Error: failed to terminate command: %v", err)
	}

	output := clampOutput(status.Output, t.opts.MaxOutputChars)
	if status.State == proc.StateCompleted {
		return joinOutput(output, fmt.Sprintf("Process finished with exit code: %d", status.ExitCode))
	}
	return joinOutput("Interactive command terminated by request.", output)
}

func clampOutput(output string, maxChars int) string {
	clamped, truncated := truncateWithNotice(output, maxChars)
	if truncated {
		logger.Debug("command output truncated", "originalChars", len(output), "maxChars", maxChars)
	}
	return clamped
}

func joinOutput(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
