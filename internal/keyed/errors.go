package keyed

import (
	"errors"
	"fmt"
)

// ErrUnknownHandler is returned when no handler is registered for a service/handler pair.
var ErrUnknownHandler = errors.New("unknown handler")

// TerminalError ends an invocation without redelivery. State the handler set
// before failing is still committed.
type TerminalError struct {
	Code int
	Err  error
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("terminal error (code %d)", e.Code)
	}
	return e.Err.Error()
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal marks err as terminal with an HTTP-equivalent status code.
func Terminal(err error, code int) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Code: code, Err: err}
}

// IsTerminal reports whether err carries a TerminalError and returns it.
func IsTerminal(err error) (*TerminalError, bool) {
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return terminal, true
	}
	return nil, false
}
