package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicProvider speaks the Anthropic messages protocol through the
// official SDK. SDK-level retries are disabled: the runner owns the retry
// budget and its accounting.
type anthropicProvider struct {
	api anthropic.Client
}

func newAnthropic(apiKey, baseURL string, timeout time.Duration) *anthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &anthropicProvider{api: anthropic.NewClient(opts...)}
}

func (p *anthropicProvider) Call(ctx context.Context, req Request) (string, error) {
	msg, err := p.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelID),
		MaxTokens: int64(maxOutputTokens),
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropic.Float(float64(req.Temperature)),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned no text content")
}
