// Package llm routes text generation to the configured chat model providers.
package llm

import (
	"context"
	"fmt"

	"bookforge/internal/domain"
)

const (
	ClaudeLargeModel = "claude-opus-4-6"
	ClaudeSmallModel = "claude-haiku-4-5-20251001"
	GPT5Model        = "gpt-5"

	// Requests above this budget go to the large Claude model.
	largeModelThreshold = 1500
)

// Completer sends one prompt to a concrete model.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error)
}

// Router picks the provider and model for a domain.AIModel.
type Router struct {
	anthropic Completer
	openai    Completer
}

// NewRouter accepts nil providers; selecting one that is missing fails at call time.
func NewRouter(anthropic, openai Completer) *Router {
	return &Router{anthropic: anthropic, openai: openai}
}

// Generate runs prompt on the provider behind model.
func (r *Router) Generate(ctx context.Context, model domain.AIModel, prompt string, maxTokens int) (string, error) {
	provider, name := r.resolve(model, maxTokens)
	if provider == nil {
		return "", fmt.Errorf("%w: no provider configured for %s", domain.ErrProviderFailure, model)
	}
	return provider.Complete(ctx, name, prompt, maxTokens)
}

func (r *Router) resolve(model domain.AIModel, maxTokens int) (Completer, string) {
	if model == domain.AIModelGPT5 {
		return r.openai, GPT5Model
	}
	if maxTokens > largeModelThreshold {
		return r.anthropic, ClaudeLargeModel
	}
	return r.anthropic, ClaudeSmallModel
}
