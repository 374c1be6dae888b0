package rag

import (
	"fmt"
	"strings"

	"github.com/54b3r/convrag/internal/budget"
)

// sourceSeparator joins formatted source blocks.
const sourceSeparator = "\n\n---\n\n"

// FormatContext renders results as numbered source blocks for a model
// prompt. Lower-ranked blocks are dropped once the estimated size exceeds
// maxTokens; a non-positive maxTokens disables the limit. Empty results
// yield "".
func FormatContext(results []SearchResult, maxTokens int) string {
	if len(results) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		name := r.FileName
		if name == "" {
			name = UnknownFileName
		}
		blocks = append(blocks, fmt.Sprintf("[Source %d: %s (Distance: %.3f)]\n%s", i+1, name, r.Score, r.Content))
	}
	return strings.Join(budget.FitBlocks(blocks, sourceSeparator, maxTokens), sourceSeparator)
}
