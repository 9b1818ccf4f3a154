// Package logs reads the daemon's JSON log file for `scribe logs`.
//
// Tail returns the last N matching records or everything after a byte offset,
// optionally waiting for new lines. Records can be narrowed to one pipeline or
// a minimum level.
package logs
