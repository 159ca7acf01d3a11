package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// DefaultEmbeddingModel is used when NewEmbeddingFunc gets an empty model.
const DefaultEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small

// NewEmbeddingFunc returns a function that embeds text with the OpenAI
// embeddings endpoint. It matches knowledge.EmbeddingFunc.
func NewEmbeddingFunc(client *openai.Client, model string) func(ctx context.Context, text string) ([]float32, error) {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
			Model: model,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings error: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		vec := make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			vec[i] = float32(v)
		}
		return vec, nil
	}
}

// Client returns the underlying SDK client.
func (m *Model) Client() *openai.Client { return m.client }
