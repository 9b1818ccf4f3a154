// Package callback validates inbound provider callbacks and routes them to the
// pipeline coordinator.
package callback
