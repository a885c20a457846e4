package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/api/schemas"
)

type stubGateway struct {
	name string
}

func (s *stubGateway) Request(context.Context, []schemas.Message) (schemas.ModelReply, error) {
	return schemas.ModelReply{Raw: s.name}, nil
}

func TestNewRouterRequiresBothTiers(t *testing.T) {
	_, err := NewRouter(zap.NewNop(), &stubGateway{}, nil)
	assert.Error(t, err)
	_, err = NewRouter(zap.NewNop(), nil, &stubGateway{})
	assert.Error(t, err)
}

func TestRouterTierSelection(t *testing.T) {
	primary := &stubGateway{name: "primary"}
	lite := &stubGateway{name: "lite"}
	r, err := NewRouter(zap.NewNop(), primary, lite)
	require.NoError(t, err)

	assert.Same(t, schemas.ModelGateway(primary), r.Gateway(TierPrimary))
	assert.Same(t, schemas.ModelGateway(lite), r.Gateway(TierLite))

	// Unknown tiers fall back to primary.
	assert.Same(t, schemas.ModelGateway(primary), r.Gateway(ModelTier("turbo")))
}

func TestRouterRequestUsesPrimary(t *testing.T) {
	r, err := NewRouter(zap.NewNop(), &stubGateway{name: "primary"}, &stubGateway{name: "lite"})
	require.NoError(t, err)

	reply, err := r.Request(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", reply.Raw)
}
