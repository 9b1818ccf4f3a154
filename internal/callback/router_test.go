package callback_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"scribe/internal/callback"
	"scribe/internal/keyed"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/testsupport"
)

type recordingTarget struct {
	calls []pipeline.Callback
	err   error
}

func (r *recordingTarget) OnDeepgramResult(_ context.Context, _ string, cb pipeline.Callback) error {
	r.calls = append(r.calls, cb)
	return r.err
}

func TestRouteRejectsNonObjectBodies(t *testing.T) {
	target := &recordingTarget{}
	router := callback.NewRouter(target, logging.NewNop())
	for _, body := range []string{`[1,2]`, `"text"`, `42`, `not json`, ``} {
		outcome, err := router.Route(context.Background(), callback.Delivery{Provider: "deepgram", PipelineID: "p1", Token: "t", Body: []byte(body)})
		if outcome != callback.OutcomeRejected || !errors.Is(err, services.ErrValidation) {
			t.Fatalf("body %q: outcome=%s err=%v", body, outcome, err)
		}
	}
	if len(target.calls) != 0 {
		t.Fatalf("rejected bodies must not reach the target, got %d", len(target.calls))
	}
}

func TestRouteRejectsMissingIdentifiers(t *testing.T) {
	router := callback.NewRouter(&recordingTarget{}, nil)
	cases := []callback.Delivery{
		{Provider: "deepgram", Token: "t", Body: []byte(`{}`)},
		{Provider: "deepgram", PipelineID: "p1", Body: []byte(`{}`)},
		{Provider: "assemblyai", PipelineID: "p1", Token: "t", Body: []byte(`{}`)},
	}
	for _, d := range cases {
		if outcome, _ := router.Route(context.Background(), d); outcome != callback.OutcomeRejected {
			t.Fatalf("delivery %+v: expected rejected, got %s", d, outcome)
		}
	}
}

func TestRouteForwardsUnrecognizedObjects(t *testing.T) {
	target := &recordingTarget{}
	router := callback.NewRouter(target, nil)
	outcome, err := router.Route(context.Background(), callback.Delivery{Provider: "deepgram", PipelineID: "p1", Token: "tok", Body: []byte(`{"metadata":{}}`)})
	if err != nil || outcome != callback.OutcomeDelivered {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	if len(target.calls) != 1 || target.calls[0].RequestID != "tok" {
		t.Fatalf("unexpected forwarded calls %+v", target.calls)
	}
}

func TestRouteDropsUnknownPipeline(t *testing.T) {
	target := &recordingTarget{err: pipeline.ErrPipelineNotFound}
	outcome, err := callback.NewRouter(target, nil).Route(context.Background(), callback.Delivery{Provider: "Deepgram", PipelineID: "ghost", Token: "t", Body: []byte(`{}`)})
	if err != nil || outcome != callback.OutcomeDropped {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
}

func TestRoutePropagatesInfraErrors(t *testing.T) {
	target := &recordingTarget{err: errors.New("database is locked")}
	outcome, err := callback.NewRouter(target, nil).Route(context.Background(), callback.Delivery{Provider: "deepgram", PipelineID: "p1", Token: "t", Body: []byte(`{}`)})
	if err == nil || outcome != "" {
		t.Fatalf("expected infra error, got outcome=%s err=%v", outcome, err)
	}
}

func TestDeferredDeliveryCompletesPipeline(t *testing.T) {
	rt := keyed.New(keyed.NewMemoryBackend())
	coord := pipeline.New(rt, &testsupport.FakeTranscriber{}, &testsupport.FakeEnhancer{}, "https://scribe.test",
		pipeline.WithTokenGenerator(func() string { return "tok" }))
	ctx := context.Background()
	if _, err := coord.Submit(ctx, "p1", "u1", "https://media.test/a.wav"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	router := callback.NewRouter(callback.Deferred(coord), nil)
	body, _ := json.Marshal(map[string]any{
		"channel": map[string]any{"alternatives": []any{map[string]any{"transcript": "deferred"}}},
	})
	outcome, err := router.Route(ctx, callback.Delivery{Provider: "deepgram", PipelineID: "p1", Token: "tok", Body: body})
	if err != nil || outcome != callback.OutcomeDelivered {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	rt.Wait()
	st, err := coord.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Status != pipeline.StatusDone || st.TranscriptText() != "deferred" {
		t.Fatalf("unexpected state %+v", st)
	}

	outcome, err = router.Route(ctx, callback.Delivery{Provider: "deepgram", PipelineID: "nope", Token: "tok", Body: body})
	if err != nil || outcome != callback.OutcomeDropped {
		t.Fatalf("unknown pipeline via deferred: outcome=%s err=%v", outcome, err)
	}
}
