package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseResult is the tagged outcome of parsing untrusted model output:
// exactly one of decision (ok=true) or failure (ok=false) is meaningful.
// The boundary handles both exhaustively; no best-effort defaults leak out.
type parseResult struct {
	ok       bool
	decision Decision
	failure  error
}

// rawDecision mirrors the Decision schema with pointer fields so missing
// keys are detectable, not silently zeroed.
type rawDecision struct {
	ShouldSpeak *bool    `json:"shouldSpeak"`
	Confidence  *float64 `json:"confidence"`
	Suggestion  *string  `json:"suggestion"`
	Reasoning   *string  `json:"reasoning"`
}

// parseDecision validates raw model text against the Decision schema.
// Any malformed structure, missing required field, or wrong type yields a
// parse failure; the caller falls back to the no-op decision.
func parseDecision(raw string) parseResult {
	jsonText := extractJSON(raw)
	if jsonText == "" {
		return parseResult{failure: fmt.Errorf("no JSON object in response")}
	}

	dec := json.NewDecoder(strings.NewReader(jsonText))
	var parsed rawDecision
	if err := dec.Decode(&parsed); err != nil {
		return parseResult{failure: fmt.Errorf("malformed JSON: %w", err)}
	}

	if parsed.ShouldSpeak == nil {
		return parseResult{failure: fmt.Errorf("missing field shouldSpeak")}
	}
	if parsed.Confidence == nil {
		return parseResult{failure: fmt.Errorf("missing field confidence")}
	}

	d := Decision{
		ShouldSpeak: *parsed.ShouldSpeak,
		Confidence:  clamp01(*parsed.Confidence),
	}
	if parsed.Suggestion != nil {
		d.Suggestion = *parsed.Suggestion
	}
	if parsed.Reasoning != nil {
		d.Reasoning = *parsed.Reasoning
	}

	// When the model declines to speak, nothing it returned is trusted.
	if !d.ShouldSpeak {
		d.Suggestion = ""
		d.Reasoning = ""
	}

	return parseResult{ok: true, decision: d}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractJSON extracts the first balanced JSON object from a potentially
// mixed-format response (models wrap JSON in prose or code fences).
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
