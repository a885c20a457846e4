// -- internal/llmclient/factory.go --
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/api/schemas"
	"github.com/droidpilot/droidpilot/internal/config"
)

// NewClient is a factory function that creates a gateway for a single model
// based on its provider.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.ModelGateway, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}

// NewRouterFromConfig builds the two-tier router from the routing section of
// the configuration. The primary and lite entries name keys of the models map.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (*Router, error) {
	primaryCfg, ok := cfg.Models[cfg.DefaultPrimaryModel]
	if !ok {
		return nil, fmt.Errorf("llm.models has no entry %q for the primary tier", cfg.DefaultPrimaryModel)
	}
	liteCfg, ok := cfg.Models[cfg.DefaultLiteModel]
	if !ok {
		// A single configured model serves both tiers.
		liteCfg = primaryCfg
	}

	primary, err := NewClient(primaryCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building primary tier client: %w", err)
	}
	lite, err := NewClient(liteCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building lite tier client: %w", err)
	}

	return NewRouter(logger, primary, lite)
}
