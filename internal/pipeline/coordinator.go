package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe/internal/keyed"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// Service is the keyed service name pipeline state is stored under.
const Service = "pipeline"

const (
	handlerSubmit   = "submit"
	handlerOnResult = "onResult"
	handlerExpire   = "expire"
)

// ErrPipelineNotFound indicates no state exists for the pipeline id.
var ErrPipelineNotFound = fmt.Errorf("pipeline not found: %w", services.ErrNotFound)

// Transcriber starts an asynchronous transcription job that reports back to callbackURL.
type Transcriber interface {
	SubmitJob(ctx context.Context, audioURL, callbackURL string) (string, error)
}

// Enhancer turns a transcript into an opaque structured result.
type Enhancer interface {
	Enhance(ctx context.Context, transcript string) (json.RawMessage, error)
}

// Notifier is told when a pipeline reaches DONE or ERROR. Failures are logged
// and never change the pipeline outcome.
type Notifier interface {
	NotifyPipelineCompleted(ctx context.Context, pipelineID, userID string) error
	NotifyPipelineFailed(ctx context.Context, pipelineID, userID, reason string) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyPipelineCompleted(context.Context, string, string) error { return nil }

func (noopNotifier) NotifyPipelineFailed(context.Context, string, string, string) error { return nil }

// Callback is a transcription result delivered for a pipeline.
type Callback struct {
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

// journaled returns cb in a form the invocation journal can encode. Bytes
// that are not JSON are kept as a JSON string.
func (cb Callback) journaled() Callback {
	if len(cb.Payload) == 0 || json.Valid(cb.Payload) {
		return cb
	}
	quoted, err := json.Marshal(string(cb.Payload))
	if err != nil {
		return Callback{RequestID: cb.RequestID}
	}
	cb.Payload = quoted
	return cb
}

type submitRequest struct {
	PipelineID string `json:"pipelineId"`
	UserID     string `json:"userId"`
	AudioURL   string `json:"audioUrl"`
}

type expireRequest struct {
	RequestID string `json:"requestId"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// Filter narrows List results.
type Filter struct {
	Statuses []Status
	UserID   string
}

func (f Filter) match(s State) bool {
	if f.UserID != "" && f.UserID != s.UserID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, status := range f.Statuses {
		if s.Status == status {
			return true
		}
	}
	return false
}

// Coordinator drives pipelines from submission to DONE or ERROR.
type Coordinator struct {
	rt           *keyed.Runtime
	transcriber  Transcriber
	enhancer     Enhancer
	notifier     Notifier
	callbackBase string
	provider     string
	logger       *slog.Logger
	now          func() time.Time
	newToken     func() string
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the clock used for timestamps and deadlines.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTokenGenerator overrides correlation token generation.
func WithTokenGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newToken = gen
		}
	}
}

// WithNotifier sets the terminal-status notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithProvider sets the provider name recorded on new pipelines.
func WithProvider(name string) Option {
	return func(c *Coordinator) {
		if name = strings.TrimSpace(name); name != "" {
			c.provider = name
		}
	}
}

// New registers the pipeline handlers on rt. callbackBaseURL is the public
// origin the transcription provider posts results to.
func New(rt *keyed.Runtime, transcriber Transcriber, enhancer Enhancer, callbackBaseURL string, opts ...Option) *Coordinator {
	c := &Coordinator{
		rt:           rt,
		transcriber:  transcriber,
		enhancer:     enhancer,
		notifier:     noopNotifier{},
		callbackBase: strings.TrimRight(callbackBaseURL, "/"),
		provider:     "deepgram",
		logger:       logging.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		newToken:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "pipeline")
	rt.Register(Service, handlerSubmit, c.handleSubmit)
	rt.Register(Service, handlerOnResult, c.handleResult)
	rt.Register(Service, handlerExpire, c.handleExpire)
	return c
}

// CallbackURL is the URL the provider posts the transcription result to.
func (c *Coordinator) CallbackURL(pipelineID, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return fmt.Sprintf("%s/callbacks/deepgram/%s?%s", c.callbackBase, url.PathEscape(pipelineID), q.Encode())
}

// Submit starts a pipeline. Submitting an existing id returns its current state,
// or retries the provider call when an earlier submit never got a job id.
// The handler keeps running if ctx is cancelled once it has been journaled.
func (c *Coordinator) Submit(ctx context.Context, pipelineID, userID, audioURL string) (StatusState, error) {
	req := submitRequest{
		PipelineID: strings.TrimSpace(pipelineID),
		UserID:     strings.TrimSpace(userID),
		AudioURL:   strings.TrimSpace(audioURL),
	}
	if err := validateSubmit(req); err != nil {
		return StatusState{}, err
	}
	result, err := c.rt.Invoke(context.WithoutCancel(ctx), Service, req.PipelineID, handlerSubmit, req)
	if err != nil {
		return StatusState{}, err
	}
	view, _ := result.(StatusState)
	return view, nil
}

func validateSubmit(req submitRequest) error {
	if req.PipelineID == "" {
		return services.Wrap(services.ErrValidation, "pipeline", "submit", "pipelineId is required", nil)
	}
	if req.UserID == "" {
		return services.Wrap(services.ErrValidation, "pipeline", "submit", "userId is required", nil)
	}
	u, err := url.Parse(req.AudioURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return services.Wrap(services.ErrValidation, "pipeline", "submit", "audioUrl must be an absolute http(s) URL", err)
	}
	return nil
}

// OnDeepgramResult delivers a transcription callback. Stale or mismatched
// callbacks are logged and ignored; provider failures end up in state. Like
// Submit, the handler is not cut short by ctx cancellation.
func (c *Coordinator) OnDeepgramResult(ctx context.Context, pipelineID string, cb Callback) error {
	pipelineID = strings.TrimSpace(pipelineID)
	if pipelineID == "" {
		return services.Wrap(services.ErrValidation, "pipeline", "onResult", "pipeline id is required", nil)
	}
	if _, err := c.load(ctx, pipelineID); err != nil {
		return err
	}
	_, err := c.rt.Invoke(context.WithoutCancel(ctx), Service, pipelineID, handlerOnResult, cb.journaled())
	return unwrapTerminal(err)
}

// DeliverAsync journals a callback and processes it in the background.
func (c *Coordinator) DeliverAsync(ctx context.Context, pipelineID string, cb Callback) error {
	pipelineID = strings.TrimSpace(pipelineID)
	if pipelineID == "" {
		return services.Wrap(services.ErrValidation, "pipeline", "onResult", "pipeline id is required", nil)
	}
	if _, err := c.load(ctx, pipelineID); err != nil {
		return err
	}
	_, err := c.rt.Send(ctx, Service, pipelineID, handlerOnResult, cb.journaled())
	return err
}

// GetStatus reads the persisted state without waiting for running handlers.
func (c *Coordinator) GetStatus(ctx context.Context, pipelineID string) (StatusState, error) {
	st, err := c.load(ctx, strings.TrimSpace(pipelineID))
	if err != nil {
		return StatusState{}, err
	}
	return st.View(), nil
}

// Get returns the full persisted state.
func (c *Coordinator) Get(ctx context.Context, pipelineID string) (State, error) {
	return c.load(ctx, strings.TrimSpace(pipelineID))
}

// List returns persisted pipelines matching filter, newest first.
func (c *Coordinator) List(ctx context.Context, filter Filter) ([]State, error) {
	entries, err := c.rt.Scan(ctx, Service)
	if err != nil {
		return nil, fmt.Errorf("scan pipelines: %w", err)
	}
	out := make([]State, 0, len(entries))
	for _, entry := range entries {
		var st State
		if err := json.Unmarshal(entry.State, &st); err != nil {
			c.logger.Warn("skipping undecodable pipeline state",
				logging.PipelineID(entry.Key),
				logging.Error(err),
				logging.String(logging.FieldEventType, "pipeline_state_corrupt"),
				logging.String(logging.FieldErrorHint, "inspect the keyed_state row"),
				logging.String(logging.FieldImpact, "pipeline omitted from listing"),
			)
			continue
		}
		if filter.match(st) {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PipelineID < out[j].PipelineID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Expire drives a pipeline that has been TRANSCRIBING longer than timeout to
// ERROR. It reports whether the pipeline was expired.
func (c *Coordinator) Expire(ctx context.Context, pipelineID string, timeout time.Duration) (bool, error) {
	st, err := c.load(ctx, pipelineID)
	if err != nil {
		return false, err
	}
	if st.Status != StatusTranscribing {
		return false, nil
	}
	result, err := c.rt.Invoke(ctx, Service, pipelineID, handlerExpire, expireRequest{
		RequestID: st.RequestID,
		TimeoutMs: timeout.Milliseconds(),
	})
	if err != nil {
		return false, err
	}
	expired, _ := result.(bool)
	return expired, nil
}

func (c *Coordinator) load(ctx context.Context, pipelineID string) (State, error) {
	if pipelineID == "" {
		return State{}, ErrPipelineNotFound
	}
	raw, ok, err := c.rt.Read(ctx, Service, pipelineID)
	if err != nil {
		return State{}, fmt.Errorf("read pipeline %s: %w", pipelineID, err)
	}
	if !ok {
		return State{}, ErrPipelineNotFound
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode pipeline %s: %w", pipelineID, err)
	}
	return st, nil
}

func (c *Coordinator) handleSubmit(ctx context.Context, call *keyed.Call) (any, error) {
	var req submitRequest
	if err := call.Bind(&req); err != nil {
		return nil, keyed.Terminal(err, http.StatusBadRequest)
	}
	logger := logging.WithContext(ctx, c.logger).With(logging.PipelineID(call.Invocation.Key))

	var st State
	exists, err := call.Get(&st)
	if err != nil {
		return nil, err
	}
	if exists {
		resuming := st.Status == StatusTranscribing && st.ProviderRequestID == ""
		if !resuming {
			logger.Debug("pipeline already submitted", logging.String("status", string(st.Status)))
			return st.View(), nil
		}
		logger.Info("resuming transcription submit",
			logging.Int("attempt", call.Invocation.Attempt),
			logging.Bool("same_invocation", st.SubmitInvocation == call.Invocation.ID),
		)
	} else {
		now := c.now()
		st = State{
			PipelineID: call.Invocation.Key,
			UserID:     req.UserID,
			AudioURL:   req.AudioURL,
			Status:     StatusQueued,
			Provider:   c.provider,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		st.advance(StatusTranscribing, now)
		st.RequestID = c.newToken()
		st.TranscribingSince = &now
		st.SubmitInvocation = call.Invocation.ID
		if err := call.Checkpoint(ctx, st); err != nil {
			return nil, err
		}
	}

	logger = logger.With(logging.Correlation(st.RequestID))
	jobID, err := c.transcriber.SubmitJob(ctx, st.AudioURL, c.CallbackURL(st.PipelineID, st.RequestID))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		st.fail(fmt.Sprintf("transcription submit failed: %v", err), c.now())
		logging.WarnWithContext(logger, "transcription submit failed", "provider_failure",
			logging.String(logging.FieldProvider, st.Provider),
			logging.Error(err),
			logging.String(logging.FieldImpact, "pipeline marked ERROR"),
			logging.String(logging.FieldErrorHint, "check provider credentials and audio URL reachability"),
		)
		if err := c.finish(ctx, call, st, logger); err != nil {
			return nil, err
		}
		return st.View(), nil
	}

	st.ProviderRequestID = jobID
	st.UpdatedAt = c.now()
	if err := call.Set(st); err != nil {
		return nil, err
	}
	logger.Info("transcription submitted",
		logging.String(logging.FieldProvider, st.Provider),
		logging.String("provider_request_id", jobID),
	)
	return st.View(), nil
}

func (c *Coordinator) handleResult(ctx context.Context, call *keyed.Call) (any, error) {
	var cb Callback
	if err := call.Bind(&cb); err != nil {
		return nil, keyed.Terminal(err, http.StatusBadRequest)
	}
	logger := logging.WithContext(ctx, c.logger).With(logging.PipelineID(call.Invocation.Key))

	var st State
	exists, err := call.Get(&st)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, keyed.Terminal(ErrPipelineNotFound, http.StatusNotFound)
	}

	resuming := (st.Status == StatusTranscribed || st.Status == StatusLLMRunning) &&
		(st.ResultInvocation == call.Invocation.ID || cb.RequestID == st.RequestID)
	if !resuming {
		if st.Status != StatusTranscribing || cb.RequestID != st.RequestID {
			logging.WarnWithContext(logger, "ignoring stale or duplicate callback", "stale_callback",
				logging.String("status", string(st.Status)),
				logging.Bool("token_match", cb.RequestID == st.RequestID),
				logging.String(logging.FieldImpact, "callback ignored"),
				logging.String(logging.FieldErrorHint, "expected for provider retries after completion"),
			)
			return nil, nil
		}
		transcript := ExtractTranscript(cb.Payload)
		if !RecognizedShape(cb.Payload) {
			logging.WarnWithContext(logger, "callback body has no transcript", "malformed_callback",
				logging.Int("payload_bytes", len(cb.Payload)),
				logging.String(logging.FieldImpact, "empty transcript stored"),
				logging.String(logging.FieldErrorHint, "inspect rawResult for the provider response"),
			)
		}
		now := c.now()
		st.advance(StatusTranscribed, now)
		st.Transcript = &transcript
		if json.Valid(cb.Payload) {
			st.RawResult = cb.Payload
		}
		st.ResultInvocation = call.Invocation.ID
		if err := call.Checkpoint(ctx, st); err != nil {
			return nil, err
		}
		logger.Info("transcript stored", logging.Int("transcript_chars", len(transcript)))
	} else {
		logger.Info("resuming enhancement",
			logging.String("status", string(st.Status)),
			logging.Int("attempt", call.Invocation.Attempt),
		)
	}
	return nil, c.enhance(ctx, call, &st, logger)
}

func (c *Coordinator) enhance(ctx context.Context, call *keyed.Call, st *State, logger *slog.Logger) error {
	if st.Status == StatusTranscribed {
		st.advance(StatusLLMRunning, c.now())
		if err := call.Checkpoint(ctx, *st); err != nil {
			return err
		}
	}

	transcript := st.TranscriptText()
	if transcript == "" {
		st.advance(StatusDone, c.now())
		logger.Info("pipeline finished without transcript")
		return c.finish(ctx, call, *st, logger)
	}

	result, err := c.enhancer.Enhance(ctx, transcript)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.fail(fmt.Sprintf("enhancement failed: %v", err), c.now())
		logging.WarnWithContext(logger, "enhancement failed", "provider_failure",
			logging.String(logging.FieldProvider, "llm"),
			logging.Error(err),
			logging.String(logging.FieldImpact, "pipeline marked ERROR"),
			logging.String(logging.FieldErrorHint, "check llm.base_url, llm.model and llm.api_key"),
		)
		return c.finish(ctx, call, *st, logger)
	}
	st.LLMResult = result
	st.advance(StatusDone, c.now())
	logger.Info("pipeline done", logging.Int("llm_result_bytes", len(result)))
	return c.finish(ctx, call, *st, logger)
}

// finish stores a terminal state and notifies about it.
func (c *Coordinator) finish(ctx context.Context, call *keyed.Call, st State, logger *slog.Logger) error {
	if err := call.Set(st); err != nil {
		return err
	}
	var err error
	switch st.Status {
	case StatusDone:
		err = c.notifier.NotifyPipelineCompleted(ctx, st.PipelineID, st.UserID)
	case StatusError:
		err = c.notifier.NotifyPipelineFailed(ctx, st.PipelineID, st.UserID, st.Error)
	}
	if err != nil {
		logging.WarnWithContext(logger, "pipeline notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no notification sent for this pipeline"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
	return nil
}

func (c *Coordinator) handleExpire(ctx context.Context, call *keyed.Call) (any, error) {
	var req expireRequest
	if err := call.Bind(&req); err != nil {
		return false, keyed.Terminal(err, http.StatusBadRequest)
	}
	var st State
	exists, err := call.Get(&st)
	if err != nil {
		return false, err
	}
	if !exists || st.Status != StatusTranscribing || st.RequestID != req.RequestID || st.TranscribingSince == nil {
		return false, nil
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	now := c.now()
	if now.Sub(*st.TranscribingSince) < timeout {
		return false, nil
	}
	st.fail(fmt.Sprintf("transcription timed out after %s", timeout), now)
	logger := logging.WithContext(ctx, c.logger)
	if err := c.finish(ctx, call, st, logger); err != nil {
		return false, err
	}
	logging.WarnWithContext(logger, "transcription timed out", "transcription_timeout",
		logging.PipelineID(st.PipelineID),
		logging.Correlation(st.RequestID),
		logging.Duration("timeout", timeout),
		logging.String(logging.FieldImpact, "pipeline marked ERROR"),
		logging.String(logging.FieldErrorHint, "verify the callback URL is reachable from the provider"),
	)
	return true, nil
}

func unwrapTerminal(err error) error {
	if err == nil {
		return nil
	}
	var terminal *keyed.TerminalError
	if errors.As(err, &terminal) && terminal.Err != nil {
		return terminal.Err
	}
	return err
}
