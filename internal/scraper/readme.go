// Package scraper collects job postings from a GitHub-hosted README table.
package scraper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultReadmeURL is the contents API endpoint of the SimplifyJobs list.
	DefaultReadmeURL = "https://api.github.com/repos/SimplifyJobs/Summer2025-Internships/contents/README.md"
	userAgent        = "spigell/resume-matcher"
)

type Client struct {
	url    string
	token  string
	logger *zap.Logger

	HTTPClient *http.Client
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func New(url, token string, logger *zap.Logger) *Client {
	if url == "" {
		url = DefaultReadmeURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:        url,
		token:      token,
		logger:     logger,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchReadme downloads and decodes the README markdown.
func (c *Client) FetchReadme(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	c.logger.Debug("make request", zap.String("url", c.url))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch readme: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("bad status: %s: %s", resp.Status, strings.TrimSpace(string(message)))
	}

	var contents contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&contents); err != nil {
		return "", fmt.Errorf("decode contents response: %w", err)
	}
	if contents.Encoding != "" && contents.Encoding != "base64" {
		return "", fmt.Errorf("unsupported content encoding %q", contents.Encoding)
	}
	if contents.Content == "" {
		return "", errors.New("readme content is empty")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(contents.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode readme content: %w", err)
	}

	c.logger.Debug("readme fetched", zap.Int("bytes", len(raw)))
	return string(raw), nil
}
