// Package llm enhances transcripts through an OpenAI-compatible chat
// completion endpoint.
//
// Requests ask for a JSON object reply using the configured system prompt; the
// reply is decoded leniently (code fences and surrounding prose are stripped)
// and returned as an opaque JSON value.
//
// # Retry Behaviour
//
// HTTP 408/429/5xx responses, network errors and empty replies are retried
// with exponential backoff (base 500ms, max 10s, retry_attempts total).
// Other 4xx responses fail immediately. Context cancellation aborts retries.
package llm
