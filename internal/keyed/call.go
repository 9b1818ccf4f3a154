package keyed

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call is the handler's view of one invocation: its payload and the key's state.
type Call struct {
	Invocation Invocation

	backend Backend
	state   []byte
	exists  bool
	dirty   bool
	cleared bool
}

// Exists reports whether the key had state when the handler started (or has
// since been given state).
func (c *Call) Exists() bool { return c.exists }

// Redelivered reports whether this invocation has been attempted before.
func (c *Call) Redelivered() bool { return c.Invocation.Attempt > 1 }

// Bind decodes the invocation payload into v.
func (c *Call) Bind(v any) error {
	if len(c.Invocation.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Invocation.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.Invocation.Handler, err)
	}
	return nil
}

// Get decodes the current state into v. It returns false when the key has no state.
func (c *Call) Get(v any) (bool, error) {
	if !c.exists {
		return false, nil
	}
	if err := json.Unmarshal(c.state, v); err != nil {
		return true, fmt.Errorf("decode %s/%s state: %w", c.Invocation.Service, c.Invocation.Key, err)
	}
	return true, nil
}

// Set replaces the state committed when the handler returns.
func (c *Call) Set(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s state: %w", c.Invocation.Service, c.Invocation.Key, err)
	}
	c.state = encoded
	c.exists = true
	c.dirty = true
	c.cleared = false
	return nil
}

// Clear drops the key's state when the handler returns. The delete happens
// just before the journal row is completed, so a redelivered invocation must
// tolerate finding the key already gone.
func (c *Call) Clear() {
	c.state = nil
	c.exists = false
	c.dirty = false
	c.cleared = true
}

// Checkpoint sets v and writes it durably before returning. The journal row
// stays in place, so a crash after a checkpoint redelivers the invocation
// against the checkpointed state.
func (c *Call) Checkpoint(ctx context.Context, v any) error {
	if err := c.Set(v); err != nil {
		return err
	}
	if err := c.backend.Save(ctx, c.Invocation.Service, c.Invocation.Key, c.state); err != nil {
		return fmt.Errorf("checkpoint %s/%s: %w", c.Invocation.Service, c.Invocation.Key, err)
	}
	return nil
}

func (c *Call) pendingState() []byte {
	if !c.dirty {
		return nil
	}
	return c.state
}
