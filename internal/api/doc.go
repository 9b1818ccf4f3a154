// Package api defines the wire types of the scribe HTTP ingress and the client
// the CLI uses to talk to a running daemon.
//
// DTOs use camelCase JSON tags. Pipeline statuses are exposed as their
// upper-case names and timestamps use RFC3339 with milliseconds. Transcription
// and enhancement results are passed through as json.RawMessage.
package api
