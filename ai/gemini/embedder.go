package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/strata/ai"
	"google.golang.org/genai"
)

// DefaultModel is used when the config leaves Model empty.
const DefaultModel = "gemini-embedding-001"

// Embedder implements ai.Embedder with the Gemini EmbedContent API.
type Embedder struct {
	client *genai.Client
	config *ai.Config
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func newEmbedder(ctx context.Context, config *ai.Config) (*Embedder, error) {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &Embedder{
		client: client,
		config: config,
		logger: slog.Default().With("component", "gemini-embedder"),
	}, nil
}

// NewEmbedder creates a Gemini embedder.
func NewEmbedder(ctx context.Context, config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(ctx, config)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds every text in one EmbedContent call.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.config.Model, contents, embedConfig(e.config.Dimension))
	if err != nil {
		e.logger.Error("embedding generation failed", "count", len(texts), "err", err)
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	return collect(result, len(texts), e.config)
}

func embedConfig(dimension int) *genai.EmbedContentConfig {
	if dimension <= 0 {
		return nil
	}
	dim := int32(dimension)
	return &genai.EmbedContentConfig{OutputDimensionality: &dim}
}

// collect pulls the vectors out of a response and checks their count and size.
func collect(result *genai.EmbedContentResponse, want int, config *ai.Config) ([][]float32, error) {
	if result == nil || len(result.Embeddings) != want {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("%w: requested %d, got %d", ai.ErrEmptyEmbedding, want, got)
	}
	out := make([][]float32, want)
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, ai.ErrEmptyEmbedding
		}
		if err := config.CheckDimension(emb.Values); err != nil {
			return nil, err
		}
		out[i] = emb.Values
	}
	return out, nil
}
