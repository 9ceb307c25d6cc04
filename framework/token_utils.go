package framework

import (
	"math"
)

// EstimateTokens converts characters to tokens at roughly four characters
// per token. Non-empty text is at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, int(math.Ceil(float64(len(text))/4.0)))
}

// EstimateMessageTokens sums EstimateTokens over a conversation plus the
// optional system directive.
func EstimateMessageTokens(messages []Message, system string) int {
	total := EstimateTokens(system)
	for _, msg := range messages {
		total += EstimateTokens(msg.Content)
	}
	return total
}
