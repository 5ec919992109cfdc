package gemini

import (
	"context"

	"github.com/poiesic/strata/ai"
)

// Provider implements ai.AIProvider for Gemini.
type Provider struct {
	embedder *Embedder
}

// NewProvider creates a Gemini provider.
func NewProvider(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	embedder, err := newEmbedder(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Provider{embedder: embedder}, nil
}

func (p *Provider) Embedder() ai.Embedder { return p.embedder }

func (p *Provider) Name() string { return ai.ProviderGemini }

// Close is a no-op; the genai client holds no resources needing release.
func (p *Provider) Close() error { return nil }
