package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWaitArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args string
		want string
	}{
		{
			name: "missing duration",
			args: `{}`,
			want: "Error: 'duration_seconds' argument is missing for wait tool.",
		},
		{
			name: "non numeric string",
			args: `{"duration_seconds": "soon"}`,
			want: "Error: 'duration_seconds' must be a valid number.",
		},
		{
			name: "wrong type",
			args: `{"duration_seconds": true}`,
			want: "Error: 'duration_seconds' must be a valid number.",
		},
		{
			name: "zero",
			args: `{"duration_seconds": 0}`,
			want: "Error: 'duration_seconds' must be a positive number.",
		},
		{
			name: "negative",
			args: `{"duration_seconds": -5}`,
			want: "Error: 'duration_seconds' must be a positive number.",
		},
	}

	tool := NewWaitTool()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tool.Run(context.Background(), json.RawMessage(tt.args))
			if got != tt.want {
				t.Errorf("Run() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWaitCompletes(t *testing.T) {
	tool := NewWaitTool()
	start := time.Now()
	got := tool.Run(context.Background(), json.RawMessage(`{"duration_seconds": 0.1}`))
	elapsed := time.Since(start)

	want := "Successfully waited for 0.1 seconds."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("wait returned after %v, want at least 100ms", elapsed)
	}
}

func TestWaitAcceptsNumericString(t *testing.T) {
	tool := NewWaitTool()
	got := tool.Run(context.Background(), json.RawMessage(`{"duration_seconds": "0.05"}`))
	want := "Successfully waited for 0.05 seconds."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}

func TestWaitClampsOversizeDuration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An oversize duration is clamped, not rejected: the wait starts and
	// the already-canceled ctx ends it immediately.
	tool := NewWaitTool()
	got := tool.Run(ctx, json.RawMessage(`{"duration_seconds": 1000}`))
	if !strings.HasPrefix(got, "Wait operation interrupted by user after approximately") {
		t.Errorf("Run() = %q, want an interruption message, not a validation error", got)
	}
}

func TestWaitInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	tool := NewWaitTool()
	start := time.Now()
	got := tool.Run(ctx, json.RawMessage(`{"duration_seconds": 30}`))
	elapsed := time.Since(start)

	if !strings.HasPrefix(got, "Wait operation interrupted by user after approximately") {
		t.Errorf("Run() = %q, want an interruption message", got)
	}
	if elapsed > 5*time.Second {
		t.Errorf("interrupted wait took %v, want well under the requested 30s", elapsed)
	}
}
