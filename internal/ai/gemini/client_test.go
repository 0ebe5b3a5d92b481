package gemini

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/stream"
)

type fakeModels struct {
	mu         sync.Mutex
	responses  []*genai.GenerateContentResponse
	streamErr  error
	embedding  *genai.EmbedContentResponse
	embedErr   error
	calls      []streamCallRecord
	embedCalls []string
}

type streamCallRecord struct {
	model  string
	prompt string
	config *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.mu.Lock()
	f.calls = append(f.calls, streamCallRecord{model: model, prompt: contents[0].Parts[0].Text, config: config})
	f.mu.Unlock()

	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, resp := range f.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls = append(f.embedCalls, model+":"+contents[0].Parts[0].Text)
	return f.embedding, f.embedErr
}

func textResponse(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: reason,
		}},
	}
}

const profileJSON = `{"description":"Go developer","soft_skills":"teamwork","technical_skills":"Go","experience_level":"intermediate","education":[],"work_experience":[],"certifications":[]}`

func TestExtractorStreamsTaggedFraming(t *testing.T) {
	models := &fakeModels{responses: []*genai.GenerateContentResponse{
		textResponse(profileJSON[:20], ""),
		{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking about it", Thought: true},
			{Text: profileJSON[20:]},
		}}}}},
		textResponse("", "STOP"),
	}}

	extractor := newExtractor(models, "gemini-test", 0, zap.NewNop())
	if extractor.Framing() != stream.FramingTagged {
		t.Fatalf("unexpected framing %q", extractor.Framing())
	}

	src, err := extractor.Extract(context.Background(), ai.ExtractionRequest{Document: "resume text"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	decoder, err := stream.NewDecoder(extractor.Framing())
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	p, err := decoder.Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if p.Description != "Go developer" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if strings.Contains(decoder.Partial(), "thinking") {
		t.Fatalf("thought parts must not reach the accumulator")
	}

	if len(models.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(models.calls))
	}
	call := models.calls[0]
	if call.model != "gemini-test" {
		t.Fatalf("unexpected model %q", call.model)
	}
	if call.config == nil || call.config.SystemInstruction == nil || call.config.ResponseMIMEType != jsonMIMEType {
		t.Fatalf("expected system instruction and json response type, got %+v", call.config)
	}
	if !strings.Contains(call.prompt, "resume text") {
		t.Fatalf("unexpected prompt %q", call.prompt)
	}
}

func TestExtractorStreamFailureAborts(t *testing.T) {
	models := &fakeModels{
		responses: []*genai.GenerateContentResponse{textResponse(`{"description":`, "")},
		streamErr: errors.New("unavailable"),
	}

	extractor := newExtractor(models, "", 0, nil)
	src, err := extractor.Extract(context.Background(), ai.ExtractionRequest{Document: "resume"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	decoder, _ := stream.NewDecoder(stream.FramingTagged)
	if _, err := decoder.Decode(context.Background(), src); !errors.Is(err, stream.ErrStreamAborted) {
		t.Fatalf("expected stream aborted, got %v", err)
	}
}

func TestExtractorRejectsEmptyDocument(t *testing.T) {
	extractor := newExtractor(&fakeModels{}, "", 0, nil)
	if _, err := extractor.Extract(context.Background(), ai.ExtractionRequest{Document: " "}); err == nil {
		t.Fatalf("expected error for empty document")
	}
}

func TestEncodeResponse(t *testing.T) {
	tests := []struct {
		name         string
		resp         *genai.GenerateContentResponse
		want         string
		wantFinished bool
	}{
		{name: "nil response", resp: nil},
		{name: "text only", resp: textResponse("ab", ""), want: `0:"ab"` + "\n"},
		{
			name:         "max tokens",
			resp:         textResponse("", "MAX_TOKENS"),
			want:         `e:{"finishReason":"length"}` + "\n",
			wantFinished: true,
		},
		{
			name: "blocked prompt",
			resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
			},
			want:         `3:"prompt blocked: SAFETY"` + "\n",
			wantFinished: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, finished := encodeResponse(tt.resp)
			if string(got) != tt.want || finished != tt.wantFinished {
				t.Fatalf("expected %q/%v, got %q/%v", tt.want, tt.wantFinished, got, finished)
			}
		})
	}
}

func TestEmbedder(t *testing.T) {
	models := &fakeModels{embedding: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2, 0.3}}},
	}}

	embedder := newEmbedder(models, "", nil)
	vec, err := embedder.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if models.embedCalls[0] != defaultEmbeddingModel+":" {
		t.Fatalf("expected empty text to be embedded with default model, got %q", models.embedCalls[0])
	}

	models.embedding = &genai.EmbedContentResponse{}
	if _, err := embedder.Embed(context.Background(), "x"); !errors.Is(err, ai.ErrInvalidEmbeddingShape) {
		t.Fatalf("expected invalid shape, got %v", err)
	}

	models.embedErr = errors.New("quota")
	if _, err := embedder.Embed(context.Background(), "x"); err == nil || errors.Is(err, ai.ErrInvalidEmbeddingShape) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
