package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/resume-matcher/internal/ai"
)

const semanticSimilarityTask = "SEMANTIC_SIMILARITY"

// Embedder maps text to vectors with the Gemini embedding API.
type Embedder struct {
	models    modelsAPI
	modelName string
	logger    *zap.Logger
}

// NewEmbedder returns an embedder using the given client and model.
func NewEmbedder(client *genai.Client, model string, logger *zap.Logger) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("gemini client is required")
	}
	return newEmbedder(client.Models, model, logger), nil
}

func newEmbedder(models modelsAPI, model string, logger *zap.Logger) *Embedder {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{models: models, modelName: model, logger: logger}
}

func (e *Embedder) Model() string {
	if e == nil {
		return ""
	}
	return e.modelName
}

// Embed returns the embedding of text. Empty text is sent as is.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e == nil || e.models == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	resp, err := e.models.EmbedContent(ctx, e.modelName, genai.Text(text), &genai.EmbedContentConfig{
		TaskType: semanticSimilarityTask,
	})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini returned no embeddings: %w", ai.ErrInvalidEmbeddingShape)
	}

	values := resp.Embeddings[0].Values
	e.logger.Debug("gemini embedding", zap.Int("text_length", len(text)), zap.Int("dimension", len(values)))

	return values, nil
}
