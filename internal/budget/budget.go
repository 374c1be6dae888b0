// Package budget provides token budget estimation for retrieved context.
// Because consumers may feed the context to different LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and code).
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default budget for a formatted block of
	// retrieved sources. Sized to leave room for the conversation itself in
	// an 8k-context model.
	DefaultMaxContextTokens = 3000

	// messageOverhead is the per-message token overhead most chat APIs add.
	messageOverhead = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitBlocks returns the longest prefix of blocks whose estimated size, joined
// by sep, stays within maxTokens. Blocks are expected best-first, so the
// least relevant ones are dropped. A non-positive maxTokens disables the limit.
//
// The first block is always kept, even when it alone exceeds the budget;
// callers that must enforce a hard ceiling should truncate it themselves.
func FitBlocks(blocks []string, sep string, maxTokens int) []string {
	if maxTokens <= 0 || len(blocks) == 0 {
		return blocks
	}

	used := Estimate(blocks[0])
	sepCost := Estimate(sep)
	for i := 1; i < len(blocks); i++ {
		next := used + sepCost + Estimate(blocks[i])
		if next > maxTokens {
			return blocks[:i]
		}
		used = next
	}
	return blocks
}
