package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/stream"
	"github.com/spigell/resume-matcher/internal/utils"
)

const (
	defaultModel          = "gemini-2.5-flash"
	defaultEmbeddingModel = "text-embedding-004"
	defaultMaxLogLength   = 200
	jsonMIMEType          = "application/json"
)

type modelsAPI interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// NewClient creates a GenAI client configured for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return client, nil
}

// Extractor streams a profile extraction from Gemini and re-encodes the
// responses in the tagged framing.
type Extractor struct {
	models    modelsAPI
	modelName string
	maxLogLen int
	logger    *zap.Logger
}

// NewExtractor returns an extractor using the given client and model.
func NewExtractor(client *genai.Client, model string, maxLogLength int, logger *zap.Logger) (*Extractor, error) {
	if client == nil {
		return nil, errors.New("gemini client is required")
	}
	return newExtractor(client.Models, model, maxLogLength, logger), nil
}

func newExtractor(models modelsAPI, model string, maxLogLength int, logger *zap.Logger) *Extractor {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Extractor{
		models:    models,
		modelName: model,
		maxLogLen: maxLogLength,
		logger:    logger,
	}
}

func (e *Extractor) Framing() stream.Framing {
	return stream.FramingTagged
}

func (e *Extractor) Model() string {
	if e == nil {
		return ""
	}
	return e.modelName
}

// Extract opens a GenerateContentStream call. The request is sent lazily on
// the first Next.
func (e *Extractor) Extract(ctx context.Context, req ai.ExtractionRequest) (stream.Source, error) {
	if e == nil || e.models == nil {
		return nil, errors.New("gemini extractor is not initialized")
	}

	prompt, err := ai.UserPrompt(req)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: ai.SystemPrompt()}}},
		ResponseMIMEType:  jsonMIMEType,
	}

	e.logger.Debug("gemini stream request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, e.maxLogLen)),
	)

	next, stop := iter.Pull2(e.models.GenerateContentStream(ctx, e.modelName, genai.Text(prompt), config))

	return &responseStream{next: next, stop: stop, logger: e.logger}, nil
}

type responseStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	logger *zap.Logger
	done   bool
}

func (s *responseStream) Next(ctx context.Context) (stream.Chunk, error) {
	for {
		if s.done {
			return stream.Chunk{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			s.done = true
			return stream.Chunk{}, err
		}

		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return stream.Chunk{}, io.EOF
		}
		if err != nil {
			s.done = true
			return stream.Chunk{}, fmt.Errorf("gemini stream: %w", err)
		}

		data, finished := encodeResponse(resp)
		if finished {
			s.done = true
		}
		if len(data) == 0 {
			continue
		}

		return stream.Chunk{Data: data}, nil
	}
}

func (s *responseStream) Close() error {
	s.stop()
	return nil
}

// encodeResponse renders the first candidate of a streamed response in the
// tagged framing and reports whether it carried a finish reason.
func encodeResponse(resp *genai.GenerateContentResponse) ([]byte, bool) {
	if resp == nil {
		return nil, false
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return stream.EncodeError(stream.FramingTagged, fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)), true
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, false
	}

	candidate := resp.Candidates[0]

	var data []byte
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought || part.Text == "" {
				continue
			}
			data = append(data, stream.EncodeDelta(stream.FramingTagged, part.Text)...)
		}
	}

	if candidate.FinishReason == "" {
		return data, false
	}

	data = append(data, stream.EncodeFinish(stream.FramingTagged, finishReason(candidate.FinishReason))...)
	return data, true
}

func finishReason(reason genai.FinishReason) stream.FinishReason {
	switch string(reason) {
	case "STOP":
		return stream.FinishStop
	case "MAX_TOKENS":
		return stream.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return stream.FinishContentFilter
	case "MALFORMED_FUNCTION_CALL", "UNEXPECTED_TOOL_CALL":
		return stream.FinishError
	case "FINISH_REASON_UNSPECIFIED":
		return stream.FinishUnknown
	default:
		return stream.FinishOther
	}
}
