package llm

import (
	"context"
	"fmt"

	"github.com/dvloznov/aegis/internal/config"
)

// PricingFromConfig builds the price table from the configured model tiers.
func PricingFromConfig(cfg *config.Config) Pricing {
	p := Pricing{}
	for name, tier := range cfg.Tiers() {
		p[name] = ModelPrice{InputPer1K: tier.InputCostPer1K, OutputPer1K: tier.OutputCostPer1K}
	}
	return p
}

// NewFactory returns a Factory for the configured provider. In token auth mode
// the caller's token authenticates against the endpoint; otherwise the
// configured API key is used and the token only selects the cache slot.
func NewFactory(ctx context.Context, cfg *config.Config) Factory {
	pricing := PricingFromConfig(cfg)

	return func(token string) (Client, error) {
		key := cfg.APIKey
		if cfg.AuthMode == config.AuthModeToken {
			if token == "" {
				return nil, fmt.Errorf("NewFactory: token auth requires a bearer token")
			}
			key = token
		}

		switch cfg.Provider {
		case config.ProviderGemini:
			return NewGeminiClient(ctx, GeminiOptions{
				APIKey:         key,
				EmbeddingModel: cfg.EmbeddingModel,
				Pricing:        pricing,
			})
		default:
			return NewOpenAIClient(OpenAIOptions{
				APIKey:              key,
				BaseURL:             cfg.BaseURL,
				Timeout:             cfg.RequestTimeout,
				EmbeddingModel:      cfg.EmbeddingModel,
				EmbeddingDimensions: cfg.EmbeddingDimensions,
				Pricing:             pricing,
			}), nil
		}
	}
}
