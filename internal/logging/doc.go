// Package logging assembles the slog loggers used by the scribe daemon and CLI.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// standard field keys (pipeline_id, correlation_id, rate_key, event_type)
// that components attach to their records. Context helpers pull pipeline and
// correlation identifiers out of a context.Context so handlers running inside
// a keyed invocation tag their lines without threading ids by hand.
//
// The daemon writes human-readable lines to stdout and JSON lines to the log
// file at the same time; tests use NewNop.
package logging
