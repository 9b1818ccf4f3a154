package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/internal/keyed"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/testsupport"
)

const nestedBody = `{"results":{"channels":[{"alternatives":[{"transcript":"hello world"}]}]}}`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	backend     *keyed.MemoryBackend
	coord       *pipeline.Coordinator
	transcriber *testsupport.FakeTranscriber
	enhancer    *testsupport.FakeEnhancer
	notifier    *testsupport.FakeNotifier
	clock       *fakeClock
}

func newHarness(t *testing.T, backend *keyed.MemoryBackend) *harness {
	t.Helper()
	if backend == nil {
		backend = keyed.NewMemoryBackend()
	}
	h := &harness{
		backend:     backend,
		transcriber: &testsupport.FakeTranscriber{},
		enhancer:    &testsupport.FakeEnhancer{},
		notifier:    &testsupport.FakeNotifier{},
		clock:       &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	tokens := 0
	h.coord = pipeline.New(keyed.New(backend), h.transcriber, h.enhancer, "https://scribe.test/",
		pipeline.WithClock(h.clock.Now),
		pipeline.WithNotifier(h.notifier),
		pipeline.WithTokenGenerator(func() string {
			tokens++
			return fmt.Sprintf("tok-%d", tokens)
		}),
	)
	return h
}

func mustSubmit(t *testing.T, h *harness, id string) pipeline.StatusState {
	t.Helper()
	view, err := h.coord.Submit(context.Background(), id, "user-1", "https://media.test/a.mp3")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return view
}

func mustState(t *testing.T, h *harness, id string) pipeline.State {
	t.Helper()
	st, err := h.coord.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return st
}

func TestEndToEndPipeline(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	view := mustSubmit(t, h, "p1")
	if view.Status != pipeline.StatusTranscribing || view.ProviderRequestID != "job-1" {
		t.Fatalf("unexpected submit view %+v", view)
	}
	calls := h.transcriber.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one adapter call, got %d", len(calls))
	}
	if calls[0].AudioURL != "https://media.test/a.mp3" {
		t.Fatalf("audio url = %q", calls[0].AudioURL)
	}
	cbURL, err := url.Parse(calls[0].CallbackURL)
	if err != nil {
		t.Fatalf("parse callback url: %v", err)
	}
	if cbURL.Path != "/callbacks/deepgram/p1" || cbURL.Query().Get("token") != "tok-1" {
		t.Fatalf("unexpected callback url %q", calls[0].CallbackURL)
	}

	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	status, err := h.coord.GetStatus(ctx, "p1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != pipeline.StatusDone {
		t.Fatalf("expected DONE, got %s", status.Status)
	}
	if status.Transcript == nil || *status.Transcript != "hello world" {
		t.Fatalf("unexpected transcript %v", status.Transcript)
	}
	var result map[string]string
	if err := json.Unmarshal(status.LLMResult, &result); err != nil || result["summary"] != "hello world" {
		t.Fatalf("unexpected llm result %s err=%v", status.LLMResult, err)
	}
	if got := h.enhancer.Transcripts(); len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("unexpected enhancer calls %v", got)
	}
	if pending, _ := h.backend.Pending(ctx); len(pending) != 0 {
		t.Fatalf("expected empty journal, got %d", len(pending))
	}
}

func TestDuplicateCallbackIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mustSubmit(t, h, "p1")
	cb := pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}
	if err := h.coord.OnDeepgramResult(ctx, "p1", cb); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	before := mustState(t, h, "p1")

	other := pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(`{"channel":{"alternatives":[{"transcript":"other"}]}}`)}
	if err := h.coord.OnDeepgramResult(ctx, "p1", other); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	after := mustState(t, h, "p1")
	if after.TranscriptText() != "hello world" || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("duplicate callback mutated state: %+v", after)
	}
	if n := len(h.enhancer.Transcripts()); n != 1 {
		t.Fatalf("expected enhancer called once, got %d", n)
	}
}

func TestMismatchedTokenIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mustSubmit(t, h, "p1")

	err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "forged", Payload: json.RawMessage(nestedBody)})
	if err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	st := mustState(t, h, "p1")
	if st.Status != pipeline.StatusTranscribing || st.Transcript != nil {
		t.Fatalf("mismatched token changed state: %+v", st)
	}
	if len(h.enhancer.Transcripts()) != 0 {
		t.Fatal("enhancer should not run on mismatched token")
	}
}

func TestCallbackForUnknownPipeline(t *testing.T) {
	h := newHarness(t, nil)
	err := h.coord.OnDeepgramResult(context.Background(), "missing", pipeline.Callback{RequestID: "x"})
	if !errors.Is(err, pipeline.ErrPipelineNotFound) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrPipelineNotFound, got %v", err)
	}
	if _, err := h.coord.GetStatus(context.Background(), "missing"); !errors.Is(err, pipeline.ErrPipelineNotFound) {
		t.Fatalf("GetStatus expected not found, got %v", err)
	}
}

func TestTranscriberFailureMarksError(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.Err = errors.New("deepgram returned 401")

	view := mustSubmit(t, h, "p1")
	if view.Status != pipeline.StatusError {
		t.Fatalf("expected ERROR, got %s", view.Status)
	}
	if !strings.Contains(view.Error, "deepgram returned 401") {
		t.Fatalf("unexpected error %q", view.Error)
	}
	if pending, _ := h.backend.Pending(context.Background()); len(pending) != 0 {
		t.Fatalf("provider failure must not stay journaled, got %d", len(pending))
	}
}

func TestEnhancerFailureMarksError(t *testing.T) {
	h := newHarness(t, nil)
	h.enhancer.Err = errors.New("model overloaded")
	mustSubmit(t, h, "p1")

	if err := h.coord.OnDeepgramResult(context.Background(), "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("provider failure leaked as error: %v", err)
	}
	st := mustState(t, h, "p1")
	if st.Status != pipeline.StatusError || !strings.Contains(st.Error, "model overloaded") {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.TranscriptText() != "hello world" {
		t.Fatalf("transcript should survive enhancer failure, got %q", st.TranscriptText())
	}
}

func TestMalformedCallbackStillCompletes(t *testing.T) {
	h := newHarness(t, nil)
	mustSubmit(t, h, "p1")

	if err := h.coord.OnDeepgramResult(context.Background(), "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(`{"unexpected":true}`)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	st := mustState(t, h, "p1")
	if st.Status != pipeline.StatusDone || st.Transcript == nil || *st.Transcript != "" {
		t.Fatalf("expected DONE with empty transcript, got %+v", st)
	}
	if len(h.enhancer.Transcripts()) != 0 {
		t.Fatal("enhancer should be skipped for empty transcript")
	}
}

func TestNonJSONCallbackStillCompletes(t *testing.T) {
	h := newHarness(t, nil)
	mustSubmit(t, h, "p1")

	if err := h.coord.OnDeepgramResult(context.Background(), "p1", pipeline.Callback{RequestID: "tok-1", Payload: []byte("not json")}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	st := mustState(t, h, "p1")
	if st.Status != pipeline.StatusDone || st.Transcript == nil || *st.Transcript != "" {
		t.Fatalf("expected DONE with empty transcript, got %+v", st)
	}
	if string(st.RawResult) != `"not json"` {
		t.Fatalf("rawResult = %s", st.RawResult)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	first := mustSubmit(t, h, "p1")
	second := mustSubmit(t, h, "p1")
	if first.ProviderRequestID != second.ProviderRequestID || second.Status != pipeline.StatusTranscribing {
		t.Fatalf("resubmit changed state: %+v vs %+v", first, second)
	}
	if n := len(h.transcriber.Calls()); n != 1 {
		t.Fatalf("expected adapter called once, got %d", n)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, nil)
	cases := []struct{ id, user, audio string }{
		{"", "u", "https://a.test/x"},
		{"p", "", "https://a.test/x"},
		{"p", "u", "not a url"},
		{"p", "u", "ftp://a.test/x"},
		{"p", "u", "/relative.mp3"},
	}
	for _, tc := range cases {
		_, err := h.coord.Submit(context.Background(), tc.id, tc.user, tc.audio)
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Submit(%q,%q,%q) expected validation error, got %v", tc.id, tc.user, tc.audio, err)
		}
	}
	if states, _ := h.coord.List(context.Background(), pipeline.Filter{}); len(states) != 0 {
		t.Fatalf("validation failures must not create state, got %d", len(states))
	}
}

func TestCrashedSubmitIsResubmittedWithSameToken(t *testing.T) {
	backend := keyed.NewMemoryBackend()
	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"pipelineId": "p1", "userId": "u1", "audioUrl": "https://media.test/a.mp3"})
	inv := keyed.Invocation{ID: "inv-1", Service: pipeline.Service, Key: "p1", Handler: "submit", Payload: payload, Attempt: 1, CreatedAt: time.Now().UTC()}
	if err := backend.Begin(ctx, inv); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	since := time.Now().UTC()
	seeded, _ := json.Marshal(pipeline.State{
		PipelineID: "p1", UserID: "u1", AudioURL: "https://media.test/a.mp3",
		Status: pipeline.StatusTranscribing, RequestID: "tok-crash",
		TranscribingSince: &since, SubmitInvocation: "inv-1",
	})
	if err := backend.Save(ctx, pipeline.Service, "p1", seeded); err != nil {
		t.Fatalf("Save: %v", err)
	}

	h := newHarness(t, backend)
	rt := keyed.New(backend)
	coord := pipeline.New(rt, h.transcriber, h.enhancer, "https://scribe.test")
	if n, err := rt.Recover(ctx); err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v", n, err)
	}
	calls := h.transcriber.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].CallbackURL, "token=tok-crash") {
		t.Fatalf("expected resubmit with original token, got %+v", calls)
	}
	st, err := coord.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.ProviderRequestID != "job-1" || st.RequestID != "tok-crash" {
		t.Fatalf("unexpected recovered state %+v", st)
	}
}

func TestCrashedEnhancementIsResumed(t *testing.T) {
	backend := keyed.NewMemoryBackend()
	ctx := context.Background()
	payload, _ := json.Marshal(pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)})
	if err := backend.Begin(ctx, keyed.Invocation{ID: "inv-2", Service: pipeline.Service, Key: "p1", Handler: "onResult", Payload: payload, Attempt: 1}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	transcript := "hello world"
	seeded, _ := json.Marshal(pipeline.State{
		PipelineID: "p1", Status: pipeline.StatusLLMRunning, RequestID: "tok-1",
		Transcript: &transcript, ResultInvocation: "inv-2",
	})
	if err := backend.Save(ctx, pipeline.Service, "p1", seeded); err != nil {
		t.Fatalf("Save: %v", err)
	}

	enhancer := &testsupport.FakeEnhancer{}
	rt := keyed.New(backend)
	coord := pipeline.New(rt, &testsupport.FakeTranscriber{}, enhancer, "https://scribe.test")
	if _, err := rt.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	st, err := coord.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Status != pipeline.StatusDone || len(enhancer.Transcripts()) != 1 {
		t.Fatalf("expected resumed enhancement, got %+v calls=%v", st, enhancer.Transcripts())
	}
}

func TestGetStatusDoesNotBlockOnEnhancement(t *testing.T) {
	h := newHarness(t, nil)
	h.enhancer.Block = make(chan struct{})
	mustSubmit(t, h, "p1")

	done := make(chan error, 1)
	go func() {
		done <- h.coord.OnDeepgramResult(context.Background(), "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)})
	}()

	deadline := time.After(2 * time.Second)
	for {
		view, err := h.coord.GetStatus(context.Background(), "p1")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if view.Status == pipeline.StatusLLMRunning {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("never observed LLM_RUNNING, last %s", view.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(h.enhancer.Block)
	if err := <-done; err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	if st := mustState(t, h, "p1"); st.Status != pipeline.StatusDone {
		t.Fatalf("expected DONE, got %s", st.Status)
	}
}

func TestDeliverAsyncProcessesInBackground(t *testing.T) {
	backend := keyed.NewMemoryBackend()
	rt := keyed.New(backend)
	transcriber := &testsupport.FakeTranscriber{}
	coord := pipeline.New(rt, transcriber, &testsupport.FakeEnhancer{}, "https://scribe.test",
		pipeline.WithTokenGenerator(func() string { return "tok" }))
	ctx := context.Background()
	if _, err := coord.Submit(ctx, "p1", "u1", "https://media.test/a.mp3"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := coord.DeliverAsync(ctx, "p1", pipeline.Callback{RequestID: "tok", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("DeliverAsync: %v", err)
	}
	rt.Wait()
	view, err := coord.GetStatus(ctx, "p1")
	if err != nil || view.Status != pipeline.StatusDone {
		t.Fatalf("expected DONE after background delivery, got %+v err=%v", view, err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mustSubmit(t, h, "p1")
	h.clock.Advance(time.Second)
	mustSubmit(t, h, "p2")
	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}

	all, err := h.coord.List(ctx, pipeline.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].PipelineID != "p2" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	done, err := h.coord.List(ctx, pipeline.Filter{Statuses: []pipeline.Status{pipeline.StatusDone}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(done) != 1 || done[0].PipelineID != "p1" {
		t.Fatalf("unexpected filtered list %+v", done)
	}
}

func TestTerminalStatusesNotify(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	mustSubmit(t, h, "ok")
	if err := h.coord.OnDeepgramResult(ctx, "ok", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	// A duplicate must not notify twice.
	if err := h.coord.OnDeepgramResult(ctx, "ok", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("duplicate: %v", err)
	}

	h.transcriber.Err = errors.New("bad audio")
	mustSubmit(t, h, "bad")

	sent := h.notifier.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected two notifications, got %+v", sent)
	}
	if sent[0].PipelineID != "ok" || sent[0].UserID != "user-1" || sent[0].Reason != "" {
		t.Fatalf("unexpected completion notification %+v", sent[0])
	}
	if sent[1].PipelineID != "bad" || !strings.Contains(sent[1].Reason, "bad audio") {
		t.Fatalf("unexpected failure notification %+v", sent[1])
	}
}

func TestNotifierFailureDoesNotFailPipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.Err = errors.New("ntfy down")
	mustSubmit(t, h, "p1")
	if err := h.coord.OnDeepgramResult(context.Background(), "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	if st := mustState(t, h, "p1"); st.Status != pipeline.StatusDone {
		t.Fatalf("expected DONE despite notifier failure, got %s", st.Status)
	}
	if pending, _ := h.backend.Pending(context.Background()); len(pending) != 0 {
		t.Fatalf("notifier failure must not keep the invocation journaled, got %d", len(pending))
	}
}

func TestCancelledSubmitStillReachesProvider(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.transcriber.Before = func(handlerCtx context.Context) error {
		cancel()
		return handlerCtx.Err()
	}

	view, err := h.coord.Submit(ctx, "p1", "user-1", "https://media.test/a.mp3")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.Status != pipeline.StatusTranscribing || view.ProviderRequestID != "job-1" {
		t.Fatalf("expected submitted job after caller cancel, got %+v", view)
	}
	if pending, _ := h.backend.Pending(context.Background()); len(pending) != 0 {
		t.Fatalf("expected empty journal, got %d", len(pending))
	}

	h.transcriber.Before = nil
	again := mustSubmit(t, h, "p1")
	if again.ProviderRequestID != "job-1" || len(h.transcriber.Calls()) != 1 {
		t.Fatalf("resubmit should not call provider again: %+v calls=%d", again, len(h.transcriber.Calls()))
	}
}

func TestResubmitRetriesSubmitWithoutJob(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	since := h.clock.Now()
	seeded, _ := json.Marshal(pipeline.State{
		PipelineID: "p1", UserID: "user-1", AudioURL: "https://media.test/a.mp3",
		Status: pipeline.StatusTranscribing, RequestID: "tok-stuck",
		TranscribingSince: &since, SubmitInvocation: "inv-gone",
	})
	if err := h.backend.Save(ctx, pipeline.Service, "p1", seeded); err != nil {
		t.Fatalf("Save: %v", err)
	}

	view := mustSubmit(t, h, "p1")
	calls := h.transcriber.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].CallbackURL, "token=tok-stuck") {
		t.Fatalf("expected one submit with the stored token, got %+v", calls)
	}
	if view.Status != pipeline.StatusTranscribing || view.ProviderRequestID != "job-1" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestCancelledCallbackStillFinishes(t *testing.T) {
	h := newHarness(t, nil)
	mustSubmit(t, h, "p1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.enhancer.Before = func(handlerCtx context.Context) error {
		cancel()
		return handlerCtx.Err()
	}

	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	if st := mustState(t, h, "p1"); st.Status != pipeline.StatusDone {
		t.Fatalf("expected DONE after caller cancel, got %s", st.Status)
	}
}

func TestDuplicateCallbackResumesStalledEnhancement(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	transcript := "hello world"
	seeded, _ := json.Marshal(pipeline.State{
		PipelineID: "p1", UserID: "user-1", Status: pipeline.StatusLLMRunning,
		RequestID: "tok-1", Transcript: &transcript, ResultInvocation: "inv-gone",
	})
	if err := h.backend.Save(ctx, pipeline.Service, "p1", seeded); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "wrong", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	if st := mustState(t, h, "p1"); st.Status != pipeline.StatusLLMRunning {
		t.Fatalf("mismatched token must not resume, got %s", st.Status)
	}

	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	st := mustState(t, h, "p1")
	if st.Status != pipeline.StatusDone || len(h.enhancer.Transcripts()) != 1 {
		t.Fatalf("expected resumed enhancement, got %+v calls=%v", st, h.enhancer.Transcripts())
	}
}

func TestErrorStateIsFinal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.enhancer.Err = errors.New("model overloaded")
	mustSubmit(t, h, "p1")
	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	failed := mustState(t, h, "p1")
	if failed.Status != pipeline.StatusError {
		t.Fatalf("expected ERROR, got %s", failed.Status)
	}

	h.enhancer.Err = nil
	h.clock.Advance(time.Hour)
	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(`{"channel":{"alternatives":[{"transcript":"other"}]}}`)}); err != nil {
		t.Fatalf("late callback: %v", err)
	}
	if expired, err := h.coord.Expire(ctx, "p1", time.Minute); err != nil || expired {
		t.Fatalf("Expire = %t, %v", expired, err)
	}
	mustSubmit(t, h, "p1")

	// A journaled expire that reaches an ERROR pipeline is a no-op too.
	payload, _ := json.Marshal(map[string]any{"requestId": "tok-1", "timeoutMs": 1})
	if err := h.backend.Begin(ctx, keyed.Invocation{ID: "inv-exp", Service: pipeline.Service, Key: "p1", Handler: "expire", Payload: payload, Attempt: 1}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rt := keyed.New(h.backend)
	pipeline.New(rt, h.transcriber, h.enhancer, "https://scribe.test")
	if _, err := rt.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	st := mustState(t, h, "p1")
	if st.Status != pipeline.StatusError || st.Error != failed.Error || st.TranscriptText() != "hello world" || !st.UpdatedAt.Equal(failed.UpdatedAt) {
		t.Fatalf("ERROR state changed: before %+v after %+v", failed, st)
	}
	if len(h.enhancer.Transcripts()) != 1 || len(h.transcriber.Calls()) != 1 {
		t.Fatalf("no provider calls expected after ERROR, enhancer=%d transcriber=%d", len(h.enhancer.Transcripts()), len(h.transcriber.Calls()))
	}
	if sent := h.notifier.Sent(); len(sent) != 1 {
		t.Fatalf("expected a single failure notification, got %+v", sent)
	}
}
