// Package schemaregistry is a minimal Confluent Schema Registry HTTP
// client: register a schema under a subject, fetch a schema by ID,
// and check reachability. Built with the same
// *http.Client-plus-bounded-read idiom as internal/aiclient.HTTPClient.
package schemaregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultBodyLimit = int64(1 << 20) // 1 MiB

// Client is a Confluent-compatible schema registry HTTP client with an
// in-process cache of resolved schema IDs and bodies.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	mu          sync.Mutex
	idBySubject map[string]int32
	schemaByID  map[int32]string
}

// New constructs a Client. When httpClient is nil a default with a 5s
// timeout is used.
func New(baseURL, apiKey, apiSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		httpClient:  httpClient,
		idBySubject: make(map[string]int32),
		schemaByID:  make(map[int32]string),
	}
}

type registerRequest struct {
	Schema string `json:"schema"`
}

type registerResponse struct {
	ID int32 `json:"id"`
}

// Register registers schemaJSON under subject and returns its schema
// ID, caching the result so repeated calls for the same subject are
// free.
func (c *Client) Register(ctx context.Context, subject, schemaJSON string) (int32, error) {
	c.mu.Lock()
	if id, ok := c.idBySubject[subject]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(registerRequest{Schema: schemaJSON})
	if err != nil {
		return 0, fmt.Errorf("schemaregistry: encode register request: %w", err)
	}

	url := fmt.Sprintf("%s/subjects/%s/versions", c.baseURL, subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("schemaregistry: build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	c.setAuth(req)

	raw, status, err := c.do(req)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return 0, fmt.Errorf("schemaregistry: register failed: HTTP %d: %s", status, strings.TrimSpace(string(raw)))
	}

	var resp registerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("schemaregistry: decode register response: %w", err)
	}

	c.mu.Lock()
	c.idBySubject[subject] = resp.ID
	c.schemaByID[resp.ID] = schemaJSON
	c.mu.Unlock()

	return resp.ID, nil
}

type schemaResponse struct {
	Schema string `json:"schema"`
}

// GetByID fetches the Avro schema registered under id, caching the
// result.
func (c *Client) GetByID(ctx context.Context, id int32) (string, error) {
	c.mu.Lock()
	if schema, ok := c.schemaByID[id]; ok {
		c.mu.Unlock()
		return schema, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/schemas/ids/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("schemaregistry: build get-by-id request: %w", err)
	}
	c.setAuth(req)

	raw, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("schemaregistry: get schema %d failed: HTTP %d", id, status)
	}

	var resp schemaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("schemaregistry: decode schema response: %w", err)
	}

	c.mu.Lock()
	c.schemaByID[id] = resp.Schema
	c.mu.Unlock()

	return resp.Schema, nil
}

// CheckConnection reports whether the registry is reachable via a
// best-effort GET /subjects probe.
func (c *Client) CheckConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/subjects", nil)
	if err != nil {
		return false
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, defaultBodyLimit))
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, c.apiSecret)
	}
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("schemaregistry: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultBodyLimit))
	if err != nil {
		return nil, 0, fmt.Errorf("schemaregistry: read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
