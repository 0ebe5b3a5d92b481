// Package openai implements the extraction and embedding contracts on top of
// the OpenAI chat completion and embedding APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/stream"
	"github.com/spigell/resume-matcher/internal/utils"
)

const (
	defaultModel          = "gpt-4-turbo-preview"
	defaultEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
	defaultMaxLogLength   = 200
)

// NewClient returns an OpenAI client. Retries are disabled: a failed call is
// reported to the caller as is.
func NewClient(apiKey, baseURL string) (*openai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return openai.NewClient(opts...), nil
}

// Extractor streams chat completions and exposes them as SSE data lines.
type Extractor struct {
	client    *openai.Client
	modelName string
	maxLogLen int
	logger    *zap.Logger
}

func NewExtractor(client *openai.Client, model string, maxLogLength int, logger *zap.Logger) (*Extractor, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Extractor{client: client, modelName: model, maxLogLen: maxLogLength, logger: logger}, nil
}

func (e *Extractor) Framing() stream.Framing {
	return stream.FramingSSE
}

func (e *Extractor) Model() string {
	return e.modelName
}

func (e *Extractor) Extract(ctx context.Context, req ai.ExtractionRequest) (stream.Source, error) {
	prompt, err := ai.UserPrompt(req)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("openai stream request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, e.maxLogLen)),
	)

	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ai.SystemPrompt()),
			openai.UserMessage(prompt),
		}),
		Model: openai.F(openai.ChatModel(e.modelName)),
	}

	return &chunkStream{stream: e.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

type chunkStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	done   bool
}

func (s *chunkStream) Next(ctx context.Context) (stream.Chunk, error) {
	for {
		if s.done {
			return stream.Chunk{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			s.done = true
			return stream.Chunk{}, err
		}

		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return stream.Chunk{}, fmt.Errorf("openai stream: %w", err)
			}
			return stream.Chunk{}, io.EOF
		}

		chunk := encodeChunk(s.stream.Current())
		if chunk.Control != nil {
			s.done = true
		}
		if len(chunk.Data) == 0 && chunk.Control == nil {
			continue
		}

		return chunk, nil
	}
}

func (s *chunkStream) Close() error {
	return s.stream.Close()
}

// encodeChunk renders the first choice as an SSE data event. The finish
// reason travels out of band since SSE has no frame for it.
func encodeChunk(chunk openai.ChatCompletionChunk) stream.Chunk {
	if len(chunk.Choices) == 0 {
		return stream.Chunk{}
	}

	choice := chunk.Choices[0]

	var out stream.Chunk
	if choice.Delta.Content != "" {
		out.Data = stream.EncodeDelta(stream.FramingSSE, choice.Delta.Content)
	}
	if reason := string(choice.FinishReason); reason != "" {
		out.Control = &stream.Control{FinishReason: finishReason(reason)}
	}

	return out
}

func finishReason(reason string) stream.FinishReason {
	switch reason {
	case "stop":
		return stream.FinishStop
	case "length":
		return stream.FinishLength
	case "content_filter":
		return stream.FinishContentFilter
	case "tool_calls", "function_call":
		return stream.FinishToolCalls
	default:
		return stream.FinishOther
	}
}
