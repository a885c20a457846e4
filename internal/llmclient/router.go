package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/api/schemas"
)

// ModelTier selects which model serves a request. The primary tier plans
// steps; the lite tier serves cheap auxiliary work such as history
// summarization.
type ModelTier string

const (
	TierPrimary ModelTier = "primary"
	TierLite    ModelTier = "lite"
)

// Router holds one gateway per tier and satisfies schemas.ModelGateway
// itself by delegating to the primary tier.
type Router struct {
	logger   *zap.Logger
	gateways map[ModelTier]schemas.ModelGateway
}

// NewRouter creates a new router with the specified gateways for each tier.
func NewRouter(logger *zap.Logger, primary, lite schemas.ModelGateway) (*Router, error) {
	if primary == nil || lite == nil {
		return nil, fmt.Errorf("both primary and lite tier gateways must be provided")
	}

	return &Router{
		logger: logger.Named("llm_router"),
		gateways: map[ModelTier]schemas.ModelGateway{
			TierPrimary: primary,
			TierLite:    lite,
		},
	}, nil
}

// Gateway returns the gateway for the given tier, defaulting to primary
// when the tier is unknown.
func (r *Router) Gateway(tier ModelTier) schemas.ModelGateway {
	if g, ok := r.gateways[tier]; ok {
		return g
	}
	r.logger.Debug("Unknown model tier, using primary", zap.String("tier", string(tier)))
	return r.gateways[TierPrimary]
}

// Request satisfies schemas.ModelGateway with the primary tier.
func (r *Router) Request(ctx context.Context, msgs []schemas.Message) (schemas.ModelReply, error) {
	return r.gateways[TierPrimary].Request(ctx, msgs)
}
