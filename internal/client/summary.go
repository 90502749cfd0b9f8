package client

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// NoToolsText is the summary when nothing is registered.
const NoToolsText = "No tools available."

const summaryHeader = "Available tools (via JSON-RPC):\n"

// ToolsSummary renders the registered tools as a human-readable listing for
// prompt construction.
func (c *Client) ToolsSummary() string {
	tools := c.registry.All()
	if len(tools) == 0 {
		return NoToolsText
	}

	var b strings.Builder
	b.WriteString(summaryHeader)
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.QualifiedName)
		b.WriteString(": ")
		b.WriteString(t.Description)
		b.WriteString("\n")
		if params := t.ParameterNames(); len(params) > 0 {
			b.WriteString("  Parameters: ")
			b.WriteString(strings.Join(params, ", "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// SummaryTokens counts the cl100k_base tokens of ToolsSummary.
func (c *Client) SummaryTokens() int {
	return CountTokens(c.ToolsSummary())
}

// CountTokens returns the cl100k_base token count of text, falling back to a
// len/4 estimate when the codec is unavailable.
func CountTokens(text string) int {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return len(text) / 4
	}
	tokens, _, err := codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(tokens)
}
