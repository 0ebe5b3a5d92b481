package remote

import (
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/stream"
)

const profileJSON = `{"description":"QA lead","soft_skills":"patience","technical_skills":"Selenium","experience_level":"intermediate","education":[],"work_experience":[],"certifications":[]}`

func TestExtractSendsDocumentAsFile(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: " + profileJSON[:30] + "\n\n"))
		w.Write([]byte("data: " + profileJSON[30:] + "\n\n"))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "secret", stream.FramingSSE, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	src, err := client.Extract(context.Background(), ai.ExtractionRequest{Document: "my resume", Instructions: "be brief"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	decoder, _ := stream.NewDecoder(client.Framing())
	p, err := decoder.Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Description != "QA lead" {
		t.Fatalf("unexpected profile %+v", p)
	}

	if auth != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if got.Prompt != "be brief" || len(got.Files) != 1 || got.Files[0].Type != documentType {
		t.Fatalf("unexpected request %+v", got)
	}
	content, _ := base64.StdEncoding.DecodeString(got.Files[0].Content)
	if string(content) != "my resume" {
		t.Fatalf("unexpected document content %q", content)
	}
}

func TestExtractGzipTaggedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write(stream.EncodeDelta(stream.FramingTagged, profileJSON))
		gz.Write(stream.EncodeFinish(stream.FramingTagged, stream.FinishStop))
		gz.Close()
	}))
	defer srv.Close()

	client, _ := New(srv.URL, "", stream.FramingTagged, nil)
	src, err := client.Extract(context.Background(), ai.ExtractionRequest{Document: "resume"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	decoder, _ := stream.NewDecoder(stream.FramingTagged)
	if _, err := decoder.Decode(context.Background(), src); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestExtractBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"No files provided"}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL, "", stream.FramingSSE, nil)
	_, err := client.Extract(context.Background(), ai.ExtractionRequest{Document: "resume"})
	if err == nil || !strings.Contains(err.Error(), "No files provided") {
		t.Fatalf("expected bad status error, got %v", err)
	}
}

func TestExtractCancelledMidStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"description\":\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client, _ := New(srv.URL, "", stream.FramingSSE, nil)

	ctx, cancel := context.WithCancel(context.Background())
	src, err := client.Extract(ctx, ai.ExtractionRequest{Document: "resume"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	decoder, _ := stream.NewDecoder(stream.FramingSSE, stream.WithDeltaHandler(func(stream.DeltaEvent) {
		cancel()
	}))
	if _, err := decoder.Decode(ctx, src); !errors.Is(err, stream.ErrStreamAborted) {
		t.Fatalf("expected stream aborted after cancel, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New("", "", stream.FramingSSE, nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := New("http://localhost", "", stream.Framing("auto"), nil); err == nil {
		t.Fatalf("expected error for unknown framing")
	}
}
