package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken approximates characters per token for English text. Used for
// threshold estimation only, not exact token counting.
const charsPerToken = 4

// DefaultResultMaxTokens caps tool output as recorded in transcripts, events,
// and the tool history. Keeps a single runaway tool result from dominating
// every downstream surface.
const DefaultResultMaxTokens = 8000

// DefaultPromptMaxTokens caps tool output embedded into LLM prompts. Safety
// net so a verification or replanning prompt still fits the model's context
// window.
const DefaultPromptMaxTokens = 100000

// EstimateTokens returns an approximate token count for the given text using
// the ~4 characters per token heuristic. len counts bytes, so multi-byte
// UTF-8 content overestimates; since estimates gate truncation, erring high
// is the safe direction.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken // Round up
}

// truncateAtLineBoundary cuts at the last newline before the limit so
// indented JSON, YAML, or log output is not split mid-line. maxChars is a
// byte limit, consistent with EstimateTokens using len. The cut point backs
// up over any partial multi-byte UTF-8 character first.
func truncateAtLineBoundary(content string, maxChars int, marker string) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: %s. Original size: %s, limit: %s]",
		marker, formatSize(len(content)), formatSize(maxChars),
	)
}

// formatSize returns a human-readable size string. Uses bytes for values
// under 1KB to avoid confusing "0KB" output on small content.
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}

// TruncateResult truncates tool output before it is recorded anywhere: the
// execution transcript, the events stream, and the tool history all see the
// capped text.
func TruncateResult(content string) string {
	return truncateAtLineBoundary(content, DefaultResultMaxTokens*charsPerToken,
		"Output exceeded result limit")
}

// TruncateForPrompt truncates tool output before it is embedded in an LLM
// prompt. Larger limit than TruncateResult so verification sees as much of
// the output as the context window allows.
func TruncateForPrompt(content string) string {
	return truncateAtLineBoundary(content, DefaultPromptMaxTokens*charsPerToken,
		"Output exceeded prompt input limit")
}
