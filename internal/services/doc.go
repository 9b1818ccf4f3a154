// Package services defines shared utilities consumed by the pipeline
// coordinator, the rate limiter, and the provider adapters.
//
// Key responsibilities:
//   - Context helpers that stamp pipeline IDs, correlation tokens, and keyed
//     invocation IDs for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (validation, not found, provider) without string matching.
//
// Provider adapters live in subpackages (deepgram, llm).
package services
