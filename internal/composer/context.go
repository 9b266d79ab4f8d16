package composer

import (
	"strings"
)

const (
	defaultMaxContextTokens = 4000
	reservedMargin          = 200
)

// NoHistorySentinel is returned when no retrieved snippet fits the budget.
const NoHistorySentinel = "No relevant history found"

// Snippet is a retrieved fragment of prior conversation with its metadata.
type Snippet struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Composer assembles a token-budgeted context string from retrieved snippets.
// It is a pure component: no I/O, deterministic for a given input.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given total token budget. If
// maxContextTokens <= 0, the default (4000) is used. The reserved margin of
// 200 tokens is always subtracted from the budget.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// BuildContext formats snippets as "Label: text" lines and accumulates them
// in the order given (relevance order from retrieval, never re-sorted) until
// the next snippet would push the running estimate past the budget. A snippet
// is included whole or not at all. Returns NoHistorySentinel when zero
// snippets fit.
func (c *Composer) BuildContext(snippets []Snippet) string {
	budget := c.MaxContextTokens - reservedMargin

	var lines []string
	tokens := 0
	for _, s := range snippets {
		line := roleLabel(s.Metadata["role"]) + ": " + s.Text
		estimated := EstimateTokens(line)
		if tokens+estimated > budget {
			break
		}
		lines = append(lines, line)
		tokens += estimated
	}

	if len(lines) == 0 {
		return NoHistorySentinel
	}
	return strings.Join(lines, "\n")
}

// EstimateTokens approximates token count as len/4. This is a deliberate
// character-based heuristic, kept as a contract: no exact tokenizer is
// available at this layer.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func roleLabel(role string) string {
	if role == "user" {
		return "User"
	}
	return "Assistant"
}
