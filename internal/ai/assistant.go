package ai

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/resume-matcher/internal/stream"
)

//go:embed prompt.md
var systemPrompt string

const defaultInstructions = "Please analyze this resume and provide insights."

// ErrInvalidEmbeddingShape is reported by embedders when the provider
// response carries no usable vector.
var ErrInvalidEmbeddingShape = errors.New("embedding response has invalid shape")

// ExtractionRequest is a plain-text document plus optional user context.
type ExtractionRequest struct {
	Document     string
	Instructions string
}

// Extractor starts a streaming completion that turns a document into profile JSON.
type Extractor interface {
	// Extract opens the stream. The returned source yields bytes encoded in Framing().
	Extract(ctx context.Context, req ExtractionRequest) (stream.Source, error)
	Framing() stream.Framing
}

// Embedder maps text to a vector. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SystemPrompt returns the instruction block describing the profile shape.
func SystemPrompt() string {
	return strings.TrimSpace(systemPrompt)
}

// UserPrompt renders the user message for a document.
func UserPrompt(req ExtractionRequest) (string, error) {
	document := strings.TrimSpace(req.Document)
	if document == "" {
		return "", errors.New("document must not be empty")
	}

	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = defaultInstructions
	}

	return fmt.Sprintf(
		"Please analyze this document and provide a structured JSON response according to the specified format:\n\n%s\n\nAdditional context from user:\n%s",
		document, instructions,
	), nil
}
