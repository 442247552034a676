package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maddsec/kalibot/proc"
)

func TestCommandLineMissingCommand(t *testing.T) {
	tool := NewCommandLineTool(proc.NewSupervisor(), CommandOptions{DefaultTimeout: 5 * time.Second})
	want := "Error: 'command' argument is missing."

	if got := tool.Run(context.Background(), json.RawMessage(`{}`)); got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
	if got := tool.Run(context.Background(), json.RawMessage(`{"command": "   "}`)); got != want {
		t.Errorf("Run(blank) = %q, want %q", got, want)
	}
}

func TestCommandLineRunsCommand(t *testing.T) {
	tool := NewCommandLineTool(proc.NewSupervisor(), CommandOptions{DefaultTimeout: 10 * time.Second})
	got := tool.Run(context.Background(), json.RawMessage(`{"command": "echo hello"}`))
	t.Logf("command result:\n%s", got)

	if !strings.Contains(got, "hello") {
		t.Errorf("result missing command output: %q", got)
	}
	if !strings.Contains(got, "Process finished with exit code: 0") {
		t.Errorf("result missing exit status: %q", got)
	}
}

func TestCommandLineConfirmApproved(t *testing.T) {
	var capturedCommand string
	opts := CommandOptions{
		DefaultTimeout: 10 * time.Second,
		Confirm: func(_ context.Context, command string) (bool, error) {
			capturedCommand = command
			return true, nil
		},
	}
	tool := NewCommandLineTool(proc.NewSupervisor(), opts)
	got := tool.Run(context.Background(), json.RawMessage(`{"command": "echo approved"}`))

	if capturedCommand != "echo approved" {
		t.Errorf("confirm saw command %q, want %q", capturedCommand, "echo approved")
	}
	if !strings.Contains(got, "Process finished with exit code: 0") {
		t.Errorf("approved command did not run: %q", got)
	}
}

func TestCommandLineConfirmDeclined(t *testing.T) {
	opts := CommandOptions{
		DefaultTimeout: 10 * time.Second,
		Confirm: func(_ context.Context, _ string) (bool, error) {
			return false, nil
		},
	}
	sup := proc.NewSupervisor()
	tool := NewCommandLineTool(sup, opts)
	got := tool.Run(context.Background(), json.RawMessage(`{"command": "echo nope"}`))

	want := "User declined command execution."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
	if sup.Active() {
		t.Error("declined command still reached the supervisor")
	}
}

func TestCommandLineConfirmInterrupted(t *testing.T) {
	opts := CommandOptions{
		DefaultTimeout: 10 * time.Second,
		Confirm: func(_ context.Context, _ string) (bool, error) {
			return false, errors.New("prompt canceled")
		},
	}
	tool := NewCommandLineTool(proc.NewSupervisor(), opts)
	got := tool.Run(context.Background(), json.RawMessage(`{"command": "echo nope"}`))

	want := "User interrupted command confirmation."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}

func TestCommandLineRejectsSecondCommand(t *testing.T) {
	sup := proc.NewSupervisor()
	defer sup.Terminate()
	tool := NewCommandLineTool(sup, CommandOptions{DefaultTimeout: 30 * time.Second})

	got := tool.Run(context.Background(), json.RawMessage(`{"command": "echo started; sleep 30"}`))
	if !strings.Contains(got, "Process is still running (PID:") {
		t.Fatalf("long-running command not reported as running: %q", got)
	}

	busy := tool.Run(context.Background(), json.RawMessage(`{"command": "echo again"}`))
	if !strings.HasPrefix(busy, "Error: Another command (PID: ") {
		t.Errorf("Run() = %q, want the busy error", busy)
	}
	if !strings.Contains(busy, "before starting a new command.") {
		t.Errorf("busy error incomplete: %q", busy)
	}
}

func TestCommandLineTimeout(t *testing.T) {
	sup := proc.NewSupervisor()
	tool := NewCommandLineTool(sup, CommandOptions{DefaultTimeout: 30 * time.Second})

	got := tool.Run(context.Background(), json.RawMessage(`{"command": "sleep 30", "timeout_seconds": 1}`))
	want := "Error: Command 'sleep 30' timed out after 1 seconds."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
	if sup.Active() {
		t.Error("timed out process still active")
	}
}

func TestSendInputWithoutActiveProcess(t *testing.T) {
	tool := NewSendInputTool(proc.NewSupervisor(), CommandOptions{})

	got := tool.Run(context.Background(), json.RawMessage(`{"input": "y"}`))
	want := "Error: No active interactive command to send input to, or process has ended."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}

	got = tool.Run(context.Background(), json.RawMessage(`{}`))
	want = "Error: 'input' argument is missing."
	if got != want {
		t.Errorf("Run(no input) = %q, want %q", got, want)
	}
}

func TestInteractiveCommandSession(t *testing.T) {
	sup := proc.NewSupervisor()
	opts := CommandOptions{DefaultTimeout: 30 * time.Second}
	command := NewCommandLineTool(sup, opts)
	sendInput := NewSendInputTool(sup, opts)
	terminate := NewTerminateCommandTool(sup, opts)

	got := command.Run(context.Background(), json.RawMessage(`{"command": "cat", "initial_input": "first"}`))
	t.Logf("start: %s", got)
	if !strings.Contains(got, "first") {
		t.Fatalf("initial input not echoed: %q", got)
	}
	if !strings.Contains(got, "Process is still running (PID:") {
		t.Fatalf("interactive command not reported as running: %q", got)
	}

	got = sendInput.Run(context.Background(), json.RawMessage(`{"input": "second"}`))
	t.Logf("send_input: %s", got)
	if !strings.Contains(got, "second") {
		t.Errorf("sent input not echoed: %q", got)
	}
	if strings.Contains(got, "first") {
		t.Errorf("send_input repeated output already delivered: %q", got)
	}
	if !strings.Contains(got, "You can send more input via 'send_input'") {
		t.Errorf("send_input result missing guidance: %q", got)
	}

	got = terminate.Run(context.Background(), nil)
	if !strings.Contains(got, "Interactive command terminated by request.") {
		t.Errorf("terminate result = %q", got)
	}
	if sup.Active() {
		t.Error("process still active after terminate")
	}
}

func TestTerminateWithoutActiveProcess(t *testing.T) {
	tool := NewTerminateCommandTool(proc.NewSupervisor(), CommandOptions{})
	got := tool.Run(context.Background(), nil)
	want := "No active interactive command to terminate."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}
