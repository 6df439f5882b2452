package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clever-events/shared/config"
)

func TestInitTracerDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{Enabled: false, Endpoint: "localhost:4317"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = InitTracer(context.Background(), TracerConfig{Enabled: true})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracerConfigFrom(t *testing.T) {
	tc := TracerConfigFrom(config.Config{
		ServiceName:     "drainer",
		Env:             "prod",
		OtelEnabled:     true,
		OtelEndpoint:    "collector:4317",
		OtelSampleRatio: 0.5,
	})
	assert.True(t, tc.Enabled)
	assert.Equal(t, "collector:4317", tc.Endpoint)
	assert.Equal(t, 0.5, tc.SampleRatio)
	assert.False(t, tc.Insecure)
}
