// Package pipeline coordinates transcription pipelines: submission to the
// transcription provider, correlated callback handling, enhancement and the
// terminal DONE/ERROR states. Each pipeline id is a key on the keyed runtime,
// so all transitions for one pipeline are serialized and journaled.
package pipeline
