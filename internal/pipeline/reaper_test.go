package pipeline_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
)

func TestReaperExpiresOverdueTranscriptions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mustSubmit(t, h, "old")
	h.clock.Advance(8 * time.Minute)
	mustSubmit(t, h, "fresh")
	h.clock.Advance(3 * time.Minute)

	reaper := pipeline.NewReaper(h.coord, logging.NewNop(), time.Minute, 10*time.Minute)
	n, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired pipeline, got %d", n)
	}
	old := mustState(t, h, "old")
	if old.Status != pipeline.StatusError || !strings.Contains(old.Error, "timed out after 10m0s") {
		t.Fatalf("unexpected expired state %+v", old)
	}
	if fresh := mustState(t, h, "fresh"); fresh.Status != pipeline.StatusTranscribing {
		t.Fatalf("fresh pipeline should stay TRANSCRIBING, got %s", fresh.Status)
	}

	// A late callback for the expired pipeline is stale.
	if err := h.coord.OnDeepgramResult(ctx, "old", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("late callback: %v", err)
	}
	if st := mustState(t, h, "old"); st.Status != pipeline.StatusError || st.Transcript != nil {
		t.Fatalf("late callback mutated expired pipeline: %+v", st)
	}
}

func TestExpireSkipsFinishedPipelines(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mustSubmit(t, h, "p1")
	if err := h.coord.OnDeepgramResult(ctx, "p1", pipeline.Callback{RequestID: "tok-1", Payload: json.RawMessage(nestedBody)}); err != nil {
		t.Fatalf("OnDeepgramResult: %v", err)
	}
	h.clock.Advance(time.Hour)
	expired, err := h.coord.Expire(ctx, "p1", time.Minute)
	if err != nil || expired {
		t.Fatalf("Expire on DONE pipeline = %v, %v", expired, err)
	}
}

func TestReaperDisabledWithZeroTimeout(t *testing.T) {
	h := newHarness(t, nil)
	mustSubmit(t, h, "p1")
	h.clock.Advance(24 * time.Hour)
	n, err := pipeline.NewReaper(h.coord, nil, 0, 0).Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("disabled reaper swept %d, %v", n, err)
	}
}
