package engine

import (
	"fmt"
	"strings"

	"codewatch/internal/snapshot"
)

// PromptVersion identifies the prompt template. Bump when the template
// changes so cached decisions from older templates can be distinguished in
// logs.
const PromptVersion = "observer/v1"

// BuildPrompt renders the observation into the decision prompt. Pure
// function: the same observation always produces the same prompt text.
func BuildPrompt(obs *snapshot.Observation) string {
	var b strings.Builder

	b.WriteString("You are a quiet pair-programming observer. You watch an editing session\n")
	b.WriteString("and only speak up when you have a genuinely useful, specific suggestion.\n")
	b.WriteString("Most of the time the right answer is to stay silent.\n\n")

	fmt.Fprintf(&b, "File: %s\n", orUnknown(obs.FilePath))
	fmt.Fprintf(&b, "Language: %s\n", orUnknown(obs.Language))
	fmt.Fprintf(&b, "Cursor: line %d, column %d\n", obs.CursorLine, obs.CursorColumn)
	fmt.Fprintf(&b, "Git status: %s\n\n", orUnknown(obs.GitStatus))

	if obs.Imports != "" {
		b.WriteString("Imports in scope:\n```\n")
		b.WriteString(obs.Imports)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("Code around the cursor:\n```\n")
	b.WriteString(obs.CodeWindow)
	b.WriteString("\n```\n\n")

	b.WriteString("Diagnostics in view:\n")
	b.WriteString(obs.DescribeDiagnostics())
	b.WriteString("\n\n")

	b.WriteString("Respond with ONLY a JSON object, no prose, in exactly this shape:\n")
	b.WriteString(`{"shouldSpeak": false, "confidence": 0.0, "suggestion": "", "reasoning": ""}` + "\n")
	b.WriteString("Set shouldSpeak to true only when the suggestion is concrete and actionable.\n")
	b.WriteString("confidence is your own estimate in [0,1] that the suggestion is worth interrupting for.\n")

	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
