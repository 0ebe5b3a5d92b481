package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
)

// Embedder maps text to vectors with the OpenAI embeddings API.
type Embedder struct {
	client    *openai.Client
	modelName string
	logger    *zap.Logger
}

func NewEmbedder(client *openai.Client, model string, logger *zap.Logger) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{client: client, modelName: model, logger: logger}, nil
}

func (e *Embedder) Model() string {
	return e.modelName
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.F[openai.EmbeddingNewParamsInputUnion](shared.UnionString(text)),
		Model:          openai.F(openai.EmbeddingModel(e.modelName)),
		EncodingFormat: openai.F(openai.EmbeddingNewParamsEncodingFormatFloat),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}

	if resp == nil || len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings: %w", ai.ErrInvalidEmbeddingShape)
	}

	values := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		values[i] = float32(v)
	}

	e.logger.Debug("openai embedding", zap.Int("text_length", len(text)), zap.Int("dimension", len(values)))

	return values, nil
}
