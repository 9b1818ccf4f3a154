package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest starts a pipeline.
type SubmitRequest struct {
	PipelineID string `json:"pipelineId"`
	UserID     string `json:"userId"`
	AudioURL   string `json:"audioUrl"`
}

// PipelineStatus is the status view returned by submit and getStatus.
type PipelineStatus struct {
	Status            string          `json:"status"`
	Transcript        *string         `json:"transcript,omitempty"`
	LLMResult         json.RawMessage `json:"llmResult,omitempty"`
	Error             string          `json:"error,omitempty"`
	ProviderRequestID string          `json:"providerRequestId,omitempty"`
}

// Pipeline is the full listing representation of a pipeline.
type Pipeline struct {
	PipelineID        string          `json:"pipelineId"`
	UserID            string          `json:"userId"`
	AudioURL          string          `json:"audioUrl"`
	Status            string          `json:"status"`
	Provider          string          `json:"provider,omitempty"`
	RequestID         string          `json:"requestId,omitempty"`
	ProviderRequestID string          `json:"providerRequestId,omitempty"`
	Transcript        *string         `json:"transcript,omitempty"`
	LLMResult         json.RawMessage `json:"llmResult,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         string          `json:"createdAt,omitempty"`
	UpdatedAt         string          `json:"updatedAt,omitempty"`
}

// PipelineListResponse wraps a pipeline listing.
type PipelineListResponse struct {
	Items []Pipeline `json:"items"`
}

// ConsumeRequest is the body of a rate limit consume call.
type ConsumeRequest struct {
	WindowMs    int64 `json:"windowMs"`
	MaxInWindow int   `json:"maxInWindow"`
}

// RateLimitState reports a limiter key's current window.
type RateLimitState struct {
	Key           string `json:"key"`
	WindowStartMs int64  `json:"windowStartMs"`
	Count         int    `json:"count"`
}

// StoreHealth describes keyed store reachability.
type StoreHealth struct {
	Driver  string         `json:"driver"`
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Counts  map[string]int `json:"counts,omitempty"`
	Pending int            `json:"pending"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status        string      `json:"status"`
	Store         StoreHealth `json:"store"`
	DataDir       string      `json:"dataDir"`
	FreeBytes     uint64      `json:"freeBytes"`
	UptimeSeconds int64       `json:"uptimeSeconds"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	RetryAfter int64  `json:"retryAfterMs,omitempty"`
}
