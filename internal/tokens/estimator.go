// Package tokens estimates the token cost of text and conversation turns.
//
// The estimate is deliberately pessimistic: it takes the larger of a
// character-based and a word-based count so that budget checks never
// under-reserve.
package tokens

import (
	"strings"

	"github.com/capitalize-ai/voice-orchestrator/internal/model"
)

const (
	// BytesPerToken is the character-based ratio.
	BytesPerToken = 4

	// WordsPerToken is the word-based ratio.
	WordsPerToken = 0.75

	// MessageOverhead is added once per message for role/formatting markers.
	MessageOverhead = 4

	// ImageCost is the fixed vendor-side cost of one image attachment.
	ImageCost = 765
)

// Estimate returns the estimated token count of text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	byChars := (len(text) + BytesPerToken - 1) / BytesPerToken
	byWords := ceilDiv(len(strings.Fields(text)), WordsPerToken)
	return max(byChars, byWords)
}

// EstimateMessage returns the cost of one message including overhead.
func EstimateMessage(m model.Message) int {
	n := MessageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	if m.HasImage() {
		n += ImageCost
	}
	return n
}

// EstimateMessages returns the summed cost of msgs.
func EstimateMessages(msgs []model.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

func ceilDiv(n int, per float64) int {
	if n <= 0 {
		return 0
	}
	f := float64(n) / per
	i := int(f)
	if float64(i) < f {
		i++
	}
	return i
}
