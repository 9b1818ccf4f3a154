package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultClientTimeout = 30 * time.Second

// Error is a non-2xx response from the daemon.
type Error struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("daemon returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the daemon HTTP ingress.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a client for baseURL. An empty token sends no Authorization header.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// Submit starts a pipeline.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (PipelineStatus, error) {
	var out PipelineStatus
	err := c.do(ctx, http.MethodPost, "/api/pipelines", nil, req, &out)
	return out, err
}

// Status fetches a pipeline's status view.
func (c *Client) Status(ctx context.Context, pipelineID string) (PipelineStatus, error) {
	var out PipelineStatus
	err := c.do(ctx, http.MethodGet, "/api/pipelines/"+url.PathEscape(pipelineID), nil, nil, &out)
	return out, err
}

// List fetches pipelines, optionally filtered by status.
func (c *Client) List(ctx context.Context, statuses []string) ([]Pipeline, error) {
	q := url.Values{}
	for _, s := range statuses {
		if s = strings.TrimSpace(s); s != "" {
			q.Add("status", s)
		}
	}
	var out PipelineListResponse
	if err := c.do(ctx, http.MethodGet, "/api/pipelines", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Consume runs checkAndConsume for key.
func (c *Client) Consume(ctx context.Context, key string, req ConsumeRequest) error {
	return c.do(ctx, http.MethodPost, "/api/ratelimit/"+url.PathEscape(key)+"/consume", nil, req, nil)
}

// RateLimit fetches a limiter key's window.
func (c *Client) RateLimit(ctx context.Context, key string) (RateLimitState, error) {
	var out RateLimitState
	err := c.do(ctx, http.MethodGet, "/api/ratelimit/"+url.PathEscape(key), nil, nil, &out)
	return out, err
}

// ResetRateLimit clears a limiter key's window.
func (c *Client) ResetRateLimit(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/ratelimit/"+url.PathEscape(key), nil, nil, nil)
}

// Health fetches daemon health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
		var decoded ErrorResponse
		if json.Unmarshal(payload, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
			apiErr.Code = decoded.Code
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
