package llm

import (
	"context"
	"fmt"
	"strings"

	"nzt-bot/internal/config"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Factory creates per-credential clients with consistent settings. The
// key pool rotates credentials; each credential gets its own client.
type Factory struct {
	Provider           string
	Model              string
	SystemPrompt       string
	Temperature        float64
	ThinkingBudget     int32
	OpenAIBaseURL      string
	OpenRouterReferrer string
	OpenRouterTitle    string
}

func NewFactory(cfg *config.Config, systemPrompt string) *Factory {
	return &Factory{
		Provider:           string(cfg.LLMProvider),
		Model:              cfg.Model,
		SystemPrompt:       systemPrompt,
		Temperature:        cfg.Temperature,
		ThinkingBudget:     cfg.ThinkingBudget,
		OpenAIBaseURL:      cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
	}
}

func (f *Factory) CreateClient(ctx context.Context, apiKey string) (Client, error) {
	switch strings.ToLower(f.Provider) {
	case ProviderGemini:
		return NewGemini(ctx, apiKey, f.Model, f.SystemPrompt, f.Temperature, f.ThinkingBudget)
	case ProviderOpenAI:
		return NewOpenAI(apiKey, f.OpenAIBaseURL, f.Model, f.SystemPrompt, f.OpenRouterReferrer, f.OpenRouterTitle), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", f.Provider)
	}
}
