package perception

import (
	"context"
	"fmt"

	"codewatch/internal/config"
)

// NewFromSettings builds the Provider selected by the effective settings.
func NewFromSettings(ctx context.Context, st config.Settings) (Provider, error) {
	switch st.Provider.Name {
	case "openai", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  st.Provider.APIKey,
			BaseURL: st.Provider.BaseURL,
			Timeout: st.ProviderTimeout(),
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, st.Provider.APIKey)
	default:
		return nil, fmt.Errorf("unknown provider %q (valid: openai, gemini)", st.Provider.Name)
	}
}
