package instrumentation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDisabled(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false

	provider, err := NewProvider(context.Background(), config)
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	// Metrics recorder is a no-op but never nil.
	require.NotNil(t, provider.Metrics())
	provider.Metrics().RecordOAuthAuth(context.Background(), OAuthResultSuccess)

	// Tracer still produces (noop) spans.
	_, span := provider.Tracer("test").Start(context.Background(), "noop")
	span.End()

	assert.Nil(t, provider.PrometheusHandler())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProviderPrometheus(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = true
	config.MetricsExporter = ExporterPrometheus
	config.TracingExporter = ExporterNone

	provider, err := NewProvider(context.Background(), config)
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	assert.True(t, provider.Enabled())
	assert.NotNil(t, provider.Metrics())
	assert.NotNil(t, provider.PrometheusHandler())
}

func TestNewProviderUnsupportedExporter(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = true
	config.MetricsExporter = "statsd"

	_, err := NewProvider(context.Background(), config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported metrics exporter")
}

func TestNewProviderOTLPRequiresEndpoint(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = true
	config.MetricsExporter = ExporterOTLP
	config.OTLPEndpoint = ""

	_, err := NewProvider(context.Background(), config)
	require.Error(t, err)
}
