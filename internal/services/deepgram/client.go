package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"scribe/internal/services"
)

const (
	defaultBaseURL        = "https://api.deepgram.com/v1"
	defaultModel          = "nova-3"
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 5
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 30 * time.Second
)

// Config captures the Deepgram request settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	SmartFormat    bool
	TimeoutSeconds int
	RetryAttempts  int
}

// Client submits asynchronous pre-recorded transcription jobs.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// NewClient constructs a client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Language = strings.TrimSpace(cfg.Language)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: timeout},
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type listenRequest struct {
	URL string `json:"url"`
}

type listenResponse struct {
	RequestID string `json:"request_id"`
}

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deepgram request: http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// SubmitJob asks Deepgram to transcribe audioURL and POST the result to
// callbackURL. It returns the provider request id.
func (c *Client) SubmitJob(ctx context.Context, audioURL, callbackURL string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "deepgram", "submit", "api key required", nil)
	}
	if strings.TrimSpace(audioURL) == "" || strings.TrimSpace(callbackURL) == "" {
		return "", services.Wrap(services.ErrValidation, "deepgram", "submit", "audio and callback URLs are required", nil)
	}
	endpoint, err := c.listenURL(callbackURL)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(listenRequest{URL: audioURL})
	if err != nil {
		return "", fmt.Errorf("deepgram request: encode body: %w", err)
	}

	var requestID string
	policy := c.retryPolicy(ctx)
	attempt := func() error {
		id, err := c.submitOnce(ctx, endpoint, body)
		if err != nil {
			if retryable(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}
		requestID = id
		return nil
	}
	if err := backoff.Retry(attempt, policy); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrProvider, "deepgram", "submit", "transcription request failed", err)
	}
	return requestID, nil
}

func (c *Client) listenURL(callbackURL string) (string, error) {
	endpoint, err := url.Parse(c.cfg.BaseURL + "/listen")
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "deepgram", "submit", "invalid base url", err)
	}
	q := endpoint.Query()
	q.Set("callback", callbackURL)
	q.Set("model", c.cfg.Model)
	if c.cfg.SmartFormat {
		q.Set("smart_format", "true")
	}
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (c *Client) submitOnce(ctx context.Context, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("deepgram request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request: http error: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("deepgram request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	var decoded listenResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("deepgram request: decode response: %w", err)
	}
	if strings.TrimSpace(decoded.RequestID) == "" {
		return "", errors.New("deepgram request: response missing request_id")
	}
	return decoded.RequestID, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBaseDelay
	policy.MaxInterval = c.retryMaxDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.RetryAttempts-1)), ctx)
}

// retryable stops only when the caller's ctx is done. A per-attempt client
// timeout surfaces as DeadlineExceeded and is retried like any network error.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
