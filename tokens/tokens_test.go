package tokens

import (
	"strings"
	"testing"

	"github.com/maddsec/kalibot/provider"
)

func TestCountEmpty(t *testing.T) {
	if got := Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestCountGrowsWithText(t *testing.T) {
	short := Count("hello")
	long := Count(strings.Repeat("hello world ", 200))
	if short <= 0 {
		t.Fatalf("Count(short) = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("Count(long) = %d, want > %d", long, short)
	}
}

func TestCountRoughlyWordSized(t *testing.T) {
	// 400 repetitions of a two-token-ish word pair. The exact BPE count
	// does not matter, only that the estimate is in a sane range for the
	// budget math.
	text := strings.Repeat("scan target ", 400)
	got := Count(text)
	if got < 400 || got > 2400 {
		t.Errorf("Count() = %d, want between 400 and 2400", got)
	}
}

func TestCountMessageIncludesOverheadAndToolCalls(t *testing.T) {
	plain := provider.Message{Role: "user", Content: "run the scan"}
	base := CountMessage(plain)
	if base <= Count(plain.Content) {
		t.Errorf("CountMessage() = %d, want more than the bare content count %d",
			base, Count(plain.Content))
	}

	withCall := provider.Message{
		Role:    "assistant",
		Content: "run the scan",
		ToolCalls: []provider.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: provider.FunctionCall{
				Name:      "command_line",
				Arguments: `{"command":"nmap -sV 10.0.0.5"}`,
			},
		}},
	}
	if got := CountMessage(withCall); got <= base {
		t.Errorf("CountMessage(with tool call) = %d, want more than %d", got, base)
	}
}

func TestCountMessagesSums(t *testing.T) {
	msgs := []provider.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
	}
	sum := CountMessage(msgs[0]) + CountMessage(msgs[1])
	if got := CountMessages(msgs); got != sum {
		t.Errorf("CountMessages() = %d, want %d", got, sum)
	}
	if got := CountMessages(nil); got != 0 {
		t.Errorf("CountMessages(nil) = %d, want 0", got)
	}
}
