package perception

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"codewatch/internal/logging"
)

// GeminiClient implements Provider using the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini-backed provider.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Submit implements Provider.
func (c *GeminiClient) Submit(ctx context.Context, prompt, modelID string) (string, error) {
	if modelID == "" {
		modelID = "gemini-2.5-flash"
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, modelID,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.2),
		},
	)
	if err != nil {
		return "", &ProviderError{Provider: "gemini", Err: err}
	}

	text := resp.Text()
	if text == "" {
		return "", &ProviderError{Provider: "gemini", Err: fmt.Errorf("empty response")}
	}

	logging.EngineDebug("gemini completion model=%s latency=%v", modelID, time.Since(start))
	return text, nil
}
