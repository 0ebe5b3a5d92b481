// Package remote streams profile extractions from an HTTP chat endpoint that
// accepts documents as base64 files and answers with a framed event stream.
package remote

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/stream"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	userAgent       = "spigell/resume-matcher"
	documentName    = "resume.txt"
	documentType    = "text/plain"
	readChunkSize   = 4096
)

// Client talks to a chat endpoint such as POST /api/chat.
type Client struct {
	token   string
	framing stream.Framing
	logger  *zap.Logger

	HTTPClient *http.Client
	UserAgent  string
	URL        string
}

type chatRequest struct {
	Prompt string     `json:"prompt"`
	Files  []chatFile `json:"files"`
}

type chatFile struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// New returns a client for url. The token is optional. No client timeout is
// set since streams are long lived; cancellation comes from the context.
func New(url, token string, framing stream.Framing, logger *zap.Logger) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("remote extraction url is required")
	}
	if framing != stream.FramingSSE && framing != stream.FramingTagged {
		return nil, fmt.Errorf("unsupported stream framing %q", framing)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		token:      strings.TrimSpace(token),
		framing:    framing,
		logger:     logger,
		HTTPClient: &http.Client{},
		UserAgent:  userAgent,
		URL:        url,
	}, nil
}

func (c *Client) Framing() stream.Framing {
	return c.framing
}

// Extract posts the document and returns the response body as a stream source.
func (c *Client) Extract(ctx context.Context, req ai.ExtractionRequest) (stream.Source, error) {
	if strings.TrimSpace(req.Document) == "" {
		return nil, errors.New("document must not be empty")
	}

	payload, err := json.Marshal(chatRequest{
		Prompt: req.Instructions,
		Files: []chatFile{{
			Name:    documentName,
			Type:    documentType,
			Content: base64.StdEncoding.EncodeToString([]byte(req.Document)),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	httpReq = c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.request(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer body.Close()
		message, _ := io.ReadAll(io.LimitReader(body, 4096))
		return nil, fmt.Errorf("bad status: %s: %s", resp.Status, strings.TrimSpace(string(message)))
	}

	return stream.NewReaderSource(body, readChunkSize), nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (g *gzipBody) Close() error {
	g.Reader.Close()
	return g.raw.Close()
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &gzipBody{Reader: reader, raw: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}
