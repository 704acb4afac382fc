// File: internal/llmclient/router.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/config"
)

// Router dispatches generation requests to the configured model for the
// requested tier. Both tiers share one rate limiter so the combined request
// rate stays under the configured budget.
type Router struct {
	fast     schemas.LLMClient
	powerful schemas.LLMClient
	logger   *zap.Logger
}

// NewRouter builds the tier clients from configuration.
func NewRouter(cfg config.LLMConfig, logger *zap.Logger) (*Router, error) {
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1)
	}

	fast, err := newClient(cfg.ModelFor("fast"), limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build fast tier client: %w", err)
	}
	powerful, err := newClient(cfg.ModelFor("powerful"), limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build powerful tier client: %w", err)
	}

	return &Router{
		fast:     fast,
		powerful: powerful,
		logger:   logger.Named("llm_client.router"),
	}, nil
}

// newClient is a factory that creates an LLMClient based on the model's provider.
func newClient(cfg config.LLMModelConfig, limiter *rate.Limiter, logger *zap.Logger) (schemas.LLMClient, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	switch provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, limiter, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", provider, config.ProviderGemini)
	}
}

// Generate routes the request to the tier's client.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResult, error) {
	switch req.Tier {
	case schemas.ModelTierPowerful:
		return r.powerful.Generate(ctx, req)
	case schemas.ModelTierFast, "":
		return r.fast.Generate(ctx, req)
	default:
		return nil, fmt.Errorf("unknown model tier: %q", req.Tier)
	}
}

// Close closes both tier clients, reporting the first failure.
func (r *Router) Close() error {
	errFast := r.fast.Close()
	errPowerful := r.powerful.Close()
	if errFast != nil {
		return errFast
	}
	return errPowerful
}
