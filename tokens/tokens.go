// Package tokens estimates token counts for context budget decisions.
//
// Estimates feed the compaction threshold check, so they only need to be
// stable and roughly right, not exact.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/maddsec/kalibot/provider"
)

// perMessageOverhead approximates the framing tokens each chat message
// costs beyond its text.
const perMessageOverhead = 4

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// Count estimates the token count of a text: BPE when the vocabulary is
// available, chars/4 otherwise.
func Count(text string) int {
	if text == "" {
		return 0
	}
	if c := getCodec(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return len(text) / 4
}

// CountMessage estimates one message including its tool call payloads.
func CountMessage(msg provider.Message) int {
	n := perMessageOverhead + Count(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += Count(tc.Function.Name) + Count(tc.Function.Arguments)
	}
	if msg.Name != "" {
		n += Count(msg.Name)
	}
	return n
}

// CountMessages estimates a whole conversation.
func CountMessages(messages []provider.Message) int {
	total := 0
	for _, msg := range messages {
		total += CountMessage(msg)
	}
	return total
}
