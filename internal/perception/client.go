// Package perception implements the model-provider boundary. Providers are
// implementation-agnostic: the engine only sees Submit.
package perception

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the external model backend interface. Submit carries the
// caller's timeout via ctx; implementations must not retry internally.
type Provider interface {
	Submit(ctx context.Context, prompt, modelID string) (string, error)
}

// ProviderError wraps any failure at the provider boundary: timeout,
// network, or a non-success API response. Timeouts are not special-cased;
// the caller treats every provider failure identically.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err originated at the provider boundary.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
