package keyed

import (
	"context"
	"encoding/json"
	"time"
)

// Invocation is a journaled handler call.
type Invocation struct {
	ID        string          `json:"id"`
	Service   string          `json:"service"`
	Key       string          `json:"key"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Entry is a persisted state value returned by Scan.
type Entry struct {
	Key       string
	State     []byte
	UpdatedAt time.Time
}

// Backend is the durable storage contract the runtime relies on.
//
// Save and Delete must be durable when they return. Complete must write state
// (when non-nil) and delete the journal row atomically.
type Backend interface {
	Load(ctx context.Context, service, key string) ([]byte, bool, error)
	Save(ctx context.Context, service, key string, state []byte) error
	Scan(ctx context.Context, service string) ([]Entry, error)
	// Delete removes the state for service/key; a missing key is not an error.
	Delete(ctx context.Context, service, key string) error

	// Begin journals inv, replacing any row with the same id.
	Begin(ctx context.Context, inv Invocation) error
	Complete(ctx context.Context, inv Invocation, state []byte) error
	// Pending lists journaled invocations oldest first.
	Pending(ctx context.Context) ([]Invocation, error)

	Ping(ctx context.Context) error
	Close() error
}
