package annotate

import (
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/lueurxax/foia-acquired/internal/config"
)

// priorityPrimary is the fallback-chain priority given to the configured
// LLMConfig.Provider; MockProvider always sits below it at priority -1.
const priorityPrimary = 100

// BuildDefault registers the provider named by cfg.Provider (openai or
// anthropic) when cfg.Enabled and an API key is configured, plus
// MockProvider, which is always registered as the last-resort fallback
// (spec.md §4.7 requires the pipeline never simply stall for lack of a
// configured LLM).
func BuildDefault(cfg config.LLMConfig, logger *zerolog.Logger) *Registry {
	templates := DefaultTemplates()
	if cfg.SynopsisPrompt != "" {
		templates.Synopsis = cfg.SynopsisPrompt
	}

	if cfg.TagsPrompt != "" {
		templates.Tags = cfg.TagsPrompt
	}

	if cfg.MaxContentChars > 0 {
		templates.MaxContentChars = cfg.MaxContentChars
	}

	reg := NewRegistry(logger)

	if cfg.Enabled && cfg.APIKey != "" {
		switch cfg.Provider {
		case "anthropic":
			reg.Register(NewAnthropic(cfg.APIKey, cfg.Model, int64(cfg.MaxTokens), templates, priorityPrimary))
		case "openai":
			provider := NewOpenAI(cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature, templates, priorityPrimary)
			if cfg.Endpoint != "" {
				clientCfg := openai.DefaultConfig(cfg.APIKey)
				clientCfg.BaseURL = cfg.Endpoint
				provider.client = openai.NewClientWithConfig(clientCfg)
			}

			reg.Register(provider)
		}
	}

	reg.Register(MockProvider{})

	return reg
}
