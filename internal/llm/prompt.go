package llm

import (
	"fmt"
	"strings"
	"text/template"
)

// maxContextChars caps the context section of a system prompt. Longer context
// keeps its trailing portion so the most recent exchange survives truncation.
const maxContextChars = 2000

const truncationMarker = "...previous context truncated...\n"

// PromptInput carries the pieces a system prompt is assembled from.
type PromptInput struct {
	// Persona is the role template text from the prompt loader. It is treated
	// as opaque text: template delimiters inside it are escaped, never
	// interpreted.
	Persona string

	// Context is the assembled conversation context, possibly empty.
	Context string

	// History holds recent session messages, oldest first. Only used in
	// streaming mode.
	History []string
}

// BuildSystemPrompt renders the system instruction for a request. The persona
// text is spliced into the template source, so its delimiters must be escaped
// first; a persona containing "{{" would otherwise fail to parse or, worse,
// execute.
func BuildSystemPrompt(in PromptInput) (string, error) {
	src := escapeDelims(in.Persona)
	if in.Context != "" {
		src += "\n\nRelevant context:\n{{.Context}}"
	}
	if len(in.History) > 0 {
		src += "\n\nChat history:\n{{range .History}}{{.}}\n{{end}}"
	}

	tmpl, err := template.New("system").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parsing system prompt template: %w", err)
	}

	data := struct {
		Context string
		History []string
	}{
		Context: truncateContext(in.Context),
		History: in.History,
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return sb.String(), nil
}

// escapeDelims neutralizes template action delimiters in untrusted template
// source so they render as literal text.
func escapeDelims(s string) string {
	return strings.ReplaceAll(s, "{{", `{{"{{"}}`)
}

// truncateContext keeps the trailing maxContextChars of oversized context and
// prefixes a marker noting the cut.
func truncateContext(context string) string {
	if len(context) <= maxContextChars {
		return context
	}
	return truncationMarker + context[len(context)-maxContextChars:]
}
