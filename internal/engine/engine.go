package engine

import (
	"context"
	"time"

	"codewatch/internal/logging"
	"codewatch/internal/perception"
	"codewatch/internal/snapshot"
)

// Engine maps observations to decisions via the provider.
//
// Retry policy: zero automatic retries within a cycle. A provider failure
// immediately yields the no-op decision; retrying is the scheduler's concern
// on the next trigger.
type Engine struct {
	provider perception.Provider
	modelID  string
	timeout  time.Duration
}

// New creates an engine bound to one provider and model.
func New(provider perception.Provider, modelID string, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{provider: provider, modelID: modelID, timeout: timeout}
}

// Decide produces a validated Decision for the observation.
//
// The returned error is non-nil only for provider failures, so the scheduler
// can apply backoff; the Decision is the no-op decision in that case. Parse
// failures are fully recovered here: raw text is logged at debug level and
// the no-op decision returned with a nil error. Nothing below this boundary
// ever surfaces a partial decision.
func (e *Engine) Decide(ctx context.Context, obs *snapshot.Observation) (Decision, error) {
	prompt := BuildPrompt(obs)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.provider.Submit(callCtx, prompt, e.modelID)
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("provider call failed: %v", err)
		return NoOp(), err
	}

	res := parseDecision(raw)
	if !res.ok {
		logging.EngineDebug("unparseable model response (%v), raw: %s", res.failure, raw)
		return NoOp(), nil
	}

	logging.EngineDebug("decision shouldSpeak=%v confidence=%.2f template=%s",
		res.decision.ShouldSpeak, res.decision.Confidence, PromptVersion)
	return res.decision, nil
}
