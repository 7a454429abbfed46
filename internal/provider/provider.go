// Package provider unifies the three supported LLM vendor protocols behind
// one call contract. Providers transport prompts and return raw completion
// text; they never interpret failures as verdicts. That is the runner's
// job.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// maxOutputTokens bounds every completion to keep cost and latency
// predictable.
const maxOutputTokens = 500

// defaultCallTimeout caps a single provider HTTP call so one hung request
// cannot stall a whole run.
const defaultCallTimeout = 60 * time.Second

// Configuration errors. These are surfaced distinctly from transient
// transport failures: retrying cannot fix them.
var (
	ErrUnknownModel = errors.New("model ID does not map to a known provider")
	ErrNoCredential = errors.New("no API key configured for provider")
)

// Request is one completion request. Temperature is caller-specified:
// evaluation runs sample at 0.3, calibration runs at 0 for reproducible
// scoring.
type Request struct {
	ModelID      string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
}

// Provider sends a prompt to one vendor API and returns the raw completion
// text. Implementations return an error on transport failures and non-2xx
// responses.
type Provider interface {
	Call(ctx context.Context, req Request) (string, error)
}

// Resolver maps a model ID to the provider that serves it.
type Resolver interface {
	ForModel(modelID string) (Provider, error)
}

// Config carries the per-vendor credentials and endpoint overrides. Each
// credential is independently optional: a missing key disables only the
// models routed to that vendor.
type Config struct {
	OpenAIKey    string
	AnthropicKey string
	GoogleAIKey  string

	// Base URL overrides, primarily for tests and OpenAI-compatible
	// endpoints. Empty means the vendor default.
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GeminiBaseURL    string

	// CallTimeout bounds a single HTTP call; zero means the default.
	CallTimeout time.Duration
}

func (c Config) callTimeout() time.Duration {
	if c.CallTimeout > 0 {
		return c.CallTimeout
	}
	return defaultCallTimeout
}

// Registry resolves model IDs to lazily constructed provider instances.
// Vendor is chosen by model ID prefix, so adding a vendor is a pure
// addition here and invisible to the runners.
type Registry struct {
	cfg Config

	mu        sync.Mutex
	openai    Provider
	anthropic Provider
	gemini    Provider
}

// NewRegistry creates a registry from the given credentials.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// ForModel returns the provider serving modelID. An unrecognized prefix
// yields ErrUnknownModel; a recognized prefix without a configured
// credential yields ErrNoCredential.
func (r *Registry) ForModel(modelID string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.HasPrefix(modelID, "gpt-"):
		if r.cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("%w: openai (model %s)", ErrNoCredential, modelID)
		}
		if r.openai == nil {
			r.openai = newOpenAI(r.cfg.OpenAIKey, r.cfg.OpenAIBaseURL, r.cfg.callTimeout())
		}
		return r.openai, nil

	case strings.HasPrefix(modelID, "claude-"):
		if r.cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("%w: anthropic (model %s)", ErrNoCredential, modelID)
		}
		if r.anthropic == nil {
			r.anthropic = newAnthropic(r.cfg.AnthropicKey, r.cfg.AnthropicBaseURL, r.cfg.callTimeout())
		}
		return r.anthropic, nil

	case strings.HasPrefix(modelID, "gemini-"):
		if r.cfg.GoogleAIKey == "" {
			return nil, fmt.Errorf("%w: google (model %s)", ErrNoCredential, modelID)
		}
		if r.gemini == nil {
			g, err := newGemini(r.cfg.GoogleAIKey, r.cfg.GeminiBaseURL, r.cfg.callTimeout())
			if err != nil {
				return nil, fmt.Errorf("gemini client: %w", err)
			}
			r.gemini = g
		}
		return r.gemini, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
}
