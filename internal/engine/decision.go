// Package engine turns observations into structured decisions: it templates
// a prompt, invokes the model provider, and strictly validates the response.
package engine

// Decision is the validated outcome of one observation cycle.
//
// Invariant: when ShouldSpeak is false, Suggestion and Reasoning are empty
// regardless of what the model returned. Confidence is clamped into [0,1] at
// validation time, never trusted raw.
type Decision struct {
	ShouldSpeak bool    `json:"shouldSpeak"`
	Confidence  float64 `json:"confidence"`
	Suggestion  string  `json:"suggestion"`
	Reasoning   string  `json:"reasoning"`
}

// NoOp returns the silent decision used for every recovered failure.
func NoOp() Decision {
	return Decision{ShouldSpeak: false, Confidence: 0}
}
