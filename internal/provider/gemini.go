package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"
)

// geminiProvider speaks the Gemini generateContent protocol through the
// google genai SDK, pinned to the Gemini API backend. The system prompt
// travels as a systemInstruction content block.
type geminiProvider struct {
	api *genai.Client
}

func newGemini(apiKey, baseURL string, timeout time.Duration) (*geminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiProvider{api: client}, nil
}

func (p *geminiProvider) Call(ctx context.Context, req Request) (string, error) {
	temperature := req.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxOutputTokens,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		},
	}

	resp, err := p.api.Models.GenerateContent(ctx, req.ModelID, genai.Text(req.UserPrompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini API call: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return resp.Text(), nil
}
