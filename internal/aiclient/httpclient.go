package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBodyLimit = int64(1 << 20) // 1 MiB

// HTTPClient calls a hosted chat-completion endpoint over plain HTTP,
// grounded on the oracle package's HTTPResolver: a *http.Client with a
// sensible default timeout, a bounded response read, and retryable
// status codes (429/5xx) surfaced as errors whose text lets
// internal/aiqueue recognize them as rate-limit-shaped.
type HTTPClient struct {
	endpoint  string
	apiKey    string
	model     string
	client    *http.Client
	bodyLimit int64
}

// NewHTTPClient constructs an HTTPClient. When httpClient is nil a
// default with the given timeout is used.
func NewHTTPClient(endpoint, apiKey, model string, timeout time.Duration, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		client:    httpClient,
		bodyLimit: defaultBodyLimit,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete posts prompt as a single user message to the configured
// chat-completion endpoint and returns the first choice's raw content,
// unparsed — response.Parse is responsible for making sense of it.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode ai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("build ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai backend request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.bodyLimit)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read ai response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("ai backend error: rate limited or unavailable (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ai backend error: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode ai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai backend returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
