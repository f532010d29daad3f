package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/canteen/internal/config"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	cfg := &config.Config{}
	ctx := context.Background()

	tp, shutdownTracing, err := SetupTracing(ctx, cfg)
	require.NoError(t, err)
	assert.NotNil(t, tp)

	shutdownLogging, err := SetupLogging(ctx, cfg)
	require.NoError(t, err)

	assert.NoError(t, Join(shutdownTracing, shutdownLogging)(ctx))
}

func TestJoinCollectsErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	err := Join(
		func(context.Context) error { return first },
		nil,
		func(context.Context) error { return second },
	)(context.Background())

	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(false))
	assert.NotNil(t, NewLogger(true))
}
