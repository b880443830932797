// Package history owns conversation turns and trims them to the context
// budget before each outbound completion.
package history

import (
	"github.com/capitalize-ai/voice-orchestrator/internal/model"
	"github.com/capitalize-ai/voice-orchestrator/internal/tokens"
)

// Optimize returns the most recent contiguous suffix of msgs that fits
// within maxMessages and maxTokens. Order is preserved and messages are
// never split; the oldest turns are dropped first. A non-positive limit
// disables that bound.
//
// The result is empty when the newest message alone costs more than
// maxTokens. msgs is never modified.
func Optimize(msgs []model.Message, maxMessages, maxTokens int) []model.Message {
	window := msgs
	if maxMessages > 0 && len(window) > maxMessages {
		window = window[len(window)-maxMessages:]
	}

	if maxTokens <= 0 || tokens.EstimateMessages(window) <= maxTokens {
		return clone(window)
	}

	start := len(window)
	used := 0
	for i := len(window) - 1; i >= 0; i-- {
		cost := tokens.EstimateMessage(window[i])
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}
	return clone(window[start:])
}

func clone(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
