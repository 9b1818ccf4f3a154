// Package ratelimit implements a per-key fixed-window limiter on top of the
// keyed runtime. Each key's window is updated by one invocation at a time, so
// concurrent callers never over-admit.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scribe/internal/keyed"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// Service is the keyed service name limiter state is stored under.
const Service = "ratelimit"

const (
	handlerConsume = "checkAndConsume"
	handlerReset   = "reset"
)

// ErrRateLimitExceeded matches every *ExceededError.
var ErrRateLimitExceeded = errors.New("rate_limit_exceeded")

// State is the persisted window for one key.
type State struct {
	WindowStartMs int64 `json:"windowStartMs"`
	Count         int   `json:"count"`
}

// ExceededError reports a rejected call.
type ExceededError struct {
	Key        string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string { return "rate_limit_exceeded" }

func (e *ExceededError) Is(target error) bool { return target == ErrRateLimitExceeded }

// Code returns the HTTP-equivalent status for the rejection.
func (e *ExceededError) Code() int { return http.StatusTooManyRequests }

type consumeRequest struct {
	WindowMs    int64 `json:"windowMs"`
	MaxInWindow int   `json:"maxInWindow"`
}

// Limiter admits or rejects calls per key.
type Limiter struct {
	rt     *keyed.Runtime
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the limiter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New registers the limiter handlers on rt.
func New(rt *keyed.Runtime, opts ...Option) *Limiter {
	l := &Limiter{rt: rt, now: time.Now, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.NewComponentLogger(l.logger, "ratelimit")
	rt.Register(Service, handlerConsume, l.handleConsume)
	rt.Register(Service, handlerReset, l.handleReset)
	return l
}

// CheckAndConsume counts one call against key. It returns *ExceededError when
// the window already holds maxInWindow calls.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, windowMs int64, maxInWindow int) error {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return services.Wrap(services.ErrValidation, "ratelimit", "consume", "key is required", nil)
	case windowMs <= 0:
		return services.Wrap(services.ErrValidation, "ratelimit", "consume", fmt.Sprintf("windowMs must be positive, got %d", windowMs), nil)
	case maxInWindow < 0:
		return services.Wrap(services.ErrValidation, "ratelimit", "consume", fmt.Sprintf("maxInWindow must not be negative, got %d", maxInWindow), nil)
	}

	_, err := l.rt.Invoke(ctx, Service, key, handlerConsume, consumeRequest{WindowMs: windowMs, MaxInWindow: maxInWindow})
	if terminal, ok := keyed.IsTerminal(err); ok {
		return terminal.Err
	}
	return err
}

// State returns the stored window for key without waiting on in-flight calls.
func (l *Limiter) State(ctx context.Context, key string) (State, bool, error) {
	raw, ok, err := l.rt.Read(ctx, Service, key)
	if err != nil || !ok {
		return State{}, ok, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, true, fmt.Errorf("decode rate limit state: %w", err)
	}
	return st, true, nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return services.Wrap(services.ErrValidation, "ratelimit", "reset", "key is required", nil)
	}
	_, err := l.rt.Invoke(ctx, Service, key, handlerReset, nil)
	return err
}

func (l *Limiter) handleConsume(ctx context.Context, call *keyed.Call) (any, error) {
	var req consumeRequest
	if err := call.Bind(&req); err != nil {
		return nil, keyed.Terminal(err, http.StatusBadRequest)
	}
	var st State
	if _, err := call.Get(&st); err != nil {
		return nil, err
	}

	nowMs := l.now().UnixMilli()
	if !call.Exists() || nowMs-st.WindowStartMs >= req.WindowMs {
		st = State{WindowStartMs: nowMs}
	}

	if st.Count >= req.MaxInWindow {
		if err := call.Set(st); err != nil {
			return nil, err
		}
		retryAfter := time.Duration(st.WindowStartMs+req.WindowMs-nowMs) * time.Millisecond
		l.logger.Debug("rate limit exceeded",
			logging.RateKey(call.Invocation.Key),
			logging.Int("count", st.Count),
			logging.Int("max", req.MaxInWindow),
			logging.Duration("retry_after", retryAfter),
		)
		return nil, keyed.Terminal(&ExceededError{
			Key:        call.Invocation.Key,
			Limit:      req.MaxInWindow,
			Window:     time.Duration(req.WindowMs) * time.Millisecond,
			RetryAfter: retryAfter,
		}, http.StatusTooManyRequests)
	}

	st.Count++
	return st, call.Set(st)
}

func (l *Limiter) handleReset(ctx context.Context, call *keyed.Call) (any, error) {
	if !call.Exists() {
		return nil, nil
	}
	l.logger.Info("rate limit window reset", logging.RateKey(call.Invocation.Key))
	call.Clear()
	return nil, nil
}
