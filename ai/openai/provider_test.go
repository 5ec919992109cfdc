package openai

import (
	"testing"

	"github.com/poiesic/strata/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	cfg := ai.NewConfig(ai.WithHost("http://localhost:11434"), ai.WithAPIKey("secret"))

	provider, err := NewProvider(cfg)
	require.NoError(t, err)
	defer provider.Close()

	assert.Equal(t, ai.ProviderOpenAI, provider.Name())
	assert.NotNil(t, provider.Embedder())
	assert.Equal(t, "http://localhost:11434/v1", cfg.Host)
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(ai.NewConfig(ai.WithHost("")))
	assert.Error(t, err)

	_, err = NewEmbedder(ai.NewConfig(ai.WithModel("")))
	assert.Error(t, err)
}
