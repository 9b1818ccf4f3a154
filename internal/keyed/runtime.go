package keyed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribe/internal/logging"
	"scribe/internal/services"
)

const (
	defaultMaxAttempts = 10
	completeTimeout    = 30 * time.Second
)

// HandlerFunc executes one invocation. The returned value is handed back to
// the Invoke caller; it is discarded for Send and recovered invocations.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Runtime executes keyed handlers against a Backend.
type Runtime struct {
	backend     Backend
	logger      *slog.Logger
	locks       *lockTable
	maxAttempts int
	now         func() time.Time
	newID       func() string

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	inflight sync.WaitGroup
}

// Option customizes the runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxAttempts caps how many times Recover redelivers an invocation
// before dropping it.
func WithMaxAttempts(attempts int) Option {
	return func(r *Runtime) {
		if attempts > 0 {
			r.maxAttempts = attempts
		}
	}
}

// WithClock overrides the clock used to stamp invocations.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides invocation id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Runtime) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// New constructs a runtime over backend.
func New(backend Backend, opts ...Option) *Runtime {
	r := &Runtime{
		backend:     backend,
		logger:      logging.NewNop(),
		locks:       newLockTable(),
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
		handlers:    make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "keyed")
	return r
}

// Backend exposes the underlying store.
func (r *Runtime) Backend() Backend { return r.backend }

// Register installs fn as service/handler. Registering twice replaces the handler.
func (r *Runtime) Register(service, handler string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerKey(service, handler)] = fn
}

func (r *Runtime) lookup(service, handler string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[handlerKey(service, handler)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownHandler, service, handler)
	}
	return fn, nil
}

// Invoke journals the call, waits for the key, runs the handler and commits
// its state. A handler must not Invoke its own key.
func (r *Runtime) Invoke(ctx context.Context, service, key, handler string, payload any) (any, error) {
	fn, inv, err := r.admit(ctx, service, key, handler, payload)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, inv, fn)
}

// Send journals the call and runs it in the background. It returns once the
// invocation is durable.
func (r *Runtime) Send(ctx context.Context, service, key, handler string, payload any) (string, error) {
	fn, inv, err := r.admit(ctx, service, key, handler, payload)
	if err != nil {
		return "", err
	}
	detached := context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if _, err := r.execute(detached, inv, fn); err != nil {
			if _, ok := IsTerminal(err); !ok {
				r.logger.Debug("background invocation left for redelivery",
					logging.String(logging.FieldInvocationID, inv.ID),
					logging.Error(err),
				)
			}
		}
	}()
	return inv.ID, nil
}

// Wait blocks until background invocations started by Send and Recover finish.
func (r *Runtime) Wait() {
	r.inflight.Wait()
}

// Read returns the committed or checkpointed state without waiting for the key.
func (r *Runtime) Read(ctx context.Context, service, key string) ([]byte, bool, error) {
	return r.backend.Load(ctx, service, key)
}

// Scan lists every state stored for service.
func (r *Runtime) Scan(ctx context.Context, service string) ([]Entry, error) {
	return r.backend.Scan(ctx, service)
}

// Recover redelivers journaled invocations. Keys are processed concurrently,
// invocations of one key in journal order. It returns the number redelivered.
func (r *Runtime) Recover(ctx context.Context) (int, error) {
	pending, err := r.backend.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending invocations: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	byKey := make(map[string][]Invocation)
	var order []string
	for _, inv := range pending {
		k := lockKey(inv.Service, inv.Key)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], inv)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, k := range order {
		invs := byKey[k]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, inv := range invs {
				if r.redeliver(ctx, inv) {
					mu.Lock()
					delivered++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	r.logger.Info("journal recovery finished",
		logging.Int("pending", len(pending)),
		logging.Int("redelivered", delivered),
	)
	return delivered, nil
}

func (r *Runtime) redeliver(ctx context.Context, inv Invocation) bool {
	attrs := []logging.Attr{
		logging.String(logging.FieldInvocationID, inv.ID),
		logging.String("service", inv.Service),
		logging.String("key", inv.Key),
		logging.String("handler", inv.Handler),
		logging.Int("attempt", inv.Attempt+1),
	}
	fn, err := r.lookup(inv.Service, inv.Handler)
	if err != nil {
		logging.WarnWithContext(r.logger, "pending invocation has no handler", "journal_unknown_handler",
			append(attrs,
				logging.Error(err),
				logging.String(logging.FieldImpact, "invocation stays journaled"),
				logging.String(logging.FieldErrorHint, "register the handler before calling Recover"),
			)...,
		)
		return false
	}

	inv.Attempt++
	if inv.Attempt > r.maxAttempts {
		logging.ErrorWithContext(r.logger, "dropping invocation after repeated failures", "journal_attempts_exhausted",
			append(attrs, logging.String(logging.FieldErrorHint, "inspect earlier failures for this key"))...,
		)
		if err := r.backend.Complete(ctx, inv, nil); err != nil {
			r.logger.Error("drop invocation failed", append([]any{logging.Error(err)}, logging.Args(attrs...)...)...)
		}
		return false
	}
	if err := r.backend.Begin(ctx, inv); err != nil {
		r.logger.Error("record redelivery attempt failed", append([]any{logging.Error(err)}, logging.Args(attrs...)...)...)
		return false
	}

	r.logger.Info("redelivering invocation", logging.Args(attrs...)...)
	if _, err := r.execute(ctx, inv, fn); err != nil {
		if _, ok := IsTerminal(err); !ok {
			return false
		}
	}
	return true
}

func (r *Runtime) admit(ctx context.Context, service, key, handler string, payload any) (HandlerFunc, Invocation, error) {
	if service == "" || key == "" || handler == "" {
		return nil, Invocation{}, services.Wrap(services.ErrValidation, "keyed", "invoke", "service, key and handler are required", nil)
	}
	fn, err := r.lookup(service, handler)
	if err != nil {
		return nil, Invocation{}, err
	}
	var encoded json.RawMessage
	if payload != nil {
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, Invocation{}, fmt.Errorf("encode %s payload: %w", handler, err)
		}
	}
	inv := Invocation{
		ID:        r.newID(),
		Service:   service,
		Key:       key,
		Handler:   handler,
		Payload:   encoded,
		Attempt:   1,
		CreatedAt: r.now(),
	}
	if err := r.backend.Begin(ctx, inv); err != nil {
		return nil, Invocation{}, fmt.Errorf("journal invocation: %w", err)
	}
	return fn, inv, nil
}

func (r *Runtime) execute(ctx context.Context, inv Invocation, fn HandlerFunc) (any, error) {
	release, err := r.locks.acquire(ctx, lockKey(inv.Service, inv.Key))
	if err != nil {
		return nil, err
	}
	defer release()

	state, exists, err := r.backend.Load(ctx, inv.Service, inv.Key)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", inv.Service, inv.Key, err)
	}
	call := &Call{Invocation: inv, backend: r.backend, state: state, exists: exists}

	result, runErr := r.run(services.WithInvocationID(ctx, inv.ID), fn, call)
	if runErr != nil {
		if _, ok := IsTerminal(runErr); !ok {
			r.logger.Warn("invocation failed; journal entry kept",
				logging.String(logging.FieldInvocationID, inv.ID),
				logging.String("service", inv.Service),
				logging.String("key", inv.Key),
				logging.String("handler", inv.Handler),
				logging.Int("attempt", inv.Attempt),
				logging.Error(runErr),
				logging.String(logging.FieldEventType, "invocation_failed"),
				logging.String(logging.FieldErrorHint, "the invocation is redelivered on the next recovery"),
				logging.String(logging.FieldImpact, "state changes after the last checkpoint were discarded"),
			)
			return nil, runErr
		}
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	if call.cleared {
		if err := r.backend.Delete(commitCtx, inv.Service, inv.Key); err != nil {
			return nil, fmt.Errorf("clear %s/%s: %w", inv.Service, inv.Key, err)
		}
	}
	if err := r.backend.Complete(commitCtx, inv, call.pendingState()); err != nil {
		return nil, fmt.Errorf("commit %s/%s: %w", inv.Service, inv.Key, err)
	}
	return result, runErr
}

func (r *Runtime) run(ctx context.Context, fn HandlerFunc, call *Call) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				logging.String(logging.FieldInvocationID, call.Invocation.ID),
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("handler %s panicked: %v", call.Invocation.Handler, rec)
		}
	}()
	return fn(ctx, call)
}

func handlerKey(service, handler string) string {
	return service + "/" + handler
}

func lockKey(service, key string) string {
	return service + "\x00" + key
}
